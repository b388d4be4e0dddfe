// Package davxml implements the WebDAV PROPFIND request/response XML
// documents a RAP child parses and produces.
package davxml

import (
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
)

// PropertySet selects which WebDAV properties a PROPFIND response should
// include. The zero value selects nothing; use
// AllProperties() for the "empty body means all properties" case.
type PropertySet struct {
	CreationDate        bool
	DisplayName         bool
	GetContentLength    bool
	GetContentType      bool
	GetEtag             bool
	GetLastModified     bool
	ResourceType        bool
	QuotaUsedBytes      bool
	QuotaAvailableBytes bool
}

// AllProperties returns the PropertySet selecting every known property,
// used when a PROPFIND request carries <allprop/> or an empty body (an
// empty request body means "all properties").
func AllProperties() PropertySet {
	return PropertySet{
		CreationDate:        true,
		DisplayName:         true,
		GetContentLength:    true,
		GetContentType:      true,
		GetEtag:             true,
		GetLastModified:     true,
		ResourceType:        true,
		QuotaUsedBytes:      true,
		QuotaAvailableBytes: true,
	}
}

type rawItem struct {
	XMLName xml.Name
}

type rawProp struct {
	XMLName xml.Name  `xml:"prop"`
	Items   []rawItem `xml:",any"`
}

type rawPropfind struct {
	XMLName  xml.Name  `xml:"propfind"`
	AllProp  *struct{} `xml:"allprop"`
	PropName *struct{} `xml:"propname"`
	Prop     *rawProp  `xml:"prop"`
}

// ParsePropfind reads a PROPFIND request body and returns the requested
// PropertySet. An absent or empty body, or an explicit <allprop/>, selects
// every property.
func ParsePropfind(r io.Reader) (PropertySet, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return PropertySet{}, errors.Wrap(err, "davxml: reading propfind body")
	}
	if len(data) == 0 {
		return AllProperties(), nil
	}

	var raw rawPropfind
	if err := xml.Unmarshal(data, &raw); err != nil {
		return PropertySet{}, errors.Wrap(err, "davxml: malformed propfind body")
	}

	if raw.AllProp != nil || raw.PropName != nil || raw.Prop == nil {
		return AllProperties(), nil
	}

	var set PropertySet
	for _, item := range raw.Prop.Items {
		switch item.XMLName.Local {
		case "creationdate":
			set.CreationDate = true
		case "displayname":
			set.DisplayName = true
		case "getcontentlength":
			set.GetContentLength = true
		case "getcontenttype":
			set.GetContentType = true
		case "getetag":
			set.GetEtag = true
		case "getlastmodified":
			set.GetLastModified = true
		case "resourcetype":
			set.ResourceType = true
		case "quota-used-bytes":
			set.QuotaUsedBytes = true
		case "quota-available-bytes":
			set.QuotaAvailableBytes = true
		}
	}
	return set, nil
}
