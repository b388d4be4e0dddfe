package davxml

import (
	"fmt"
	"io"
	"time"

	"couling.me/webdavd/internal/webdavfs"
)

// Entry describes one filesystem resource to render as a <d:response> in a
// multistatus document.
type Entry struct {
	Href        string
	DisplayName string
	IsDir       bool
	Size        int64
	ModTime     time.Time
	CTime       time.Time
	ContentType string
	Quota       webdavfs.Quota
	HasQuota    bool
}

// WriteMultistatus writes the <d:multistatus> document for entries,
// filtered through set. entries[0] is the requested resource itself; any
// further entries are its immediate children (depth semantics reduced to
// {self, self+children}).
func WriteMultistatus(w io.Writer, set PropertySet, entries []Entry) error {
	if _, err := io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>`+"\n"); err != nil {
		return err
	}
	if _, err := io.WriteString(w, `<d:multistatus xmlns:d="DAV:">`+"\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeResponse(w, set, e); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, `</d:multistatus>`+"\n")
	return err
}

func writeResponse(w io.Writer, set PropertySet, e Entry) error {
	if _, err := fmt.Fprintf(w, "  <d:response>\n    <d:href>%s</d:href>\n", escape(e.Href)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "    <d:propstat>\n      <d:prop>\n"); err != nil {
		return err
	}

	if set.DisplayName {
		fmt.Fprintf(w, "        <d:displayname>%s</d:displayname>\n", escape(e.DisplayName))
	}
	if set.CreationDate {
		// Both creationdate and getlastmodified are derived from ctime.
		fmt.Fprintf(w, "        <d:creationdate>%s</d:creationdate>\n", httpDate(e.CTime))
	}
	if set.GetLastModified {
		fmt.Fprintf(w, "        <d:getlastmodified>%s</d:getlastmodified>\n", httpDate(e.CTime))
	}
	if set.GetEtag {
		fmt.Fprintf(w, "        <d:getetag>&quot;%d-%d&quot;</d:getetag>\n", e.Size, e.ModTime.Unix())
	}
	if set.ResourceType {
		if e.IsDir {
			io.WriteString(w, "        <d:resourcetype><d:collection/></d:resourcetype>\n")
		} else {
			io.WriteString(w, "        <d:resourcetype/>\n")
		}
	}
	if !e.IsDir {
		if set.GetContentLength {
			fmt.Fprintf(w, "        <d:getcontentlength>%d</d:getcontentlength>\n", e.Size)
		}
		if set.GetContentType {
			fmt.Fprintf(w, "        <d:getcontenttype>%s</d:getcontenttype>\n", escape(e.ContentType))
		}
	}
	if e.IsDir && e.HasQuota {
		if set.QuotaUsedBytes {
			fmt.Fprintf(w, "        <d:quota-used-bytes>%d</d:quota-used-bytes>\n", e.Quota.UsedBytes)
		}
		if set.QuotaAvailableBytes {
			fmt.Fprintf(w, "        <d:quota-available-bytes>%d</d:quota-available-bytes>\n", e.Quota.AvailableBytes)
		}
	}

	_, err := io.WriteString(w, "      </d:prop>\n      <d:status>HTTP/1.1 200 OK</d:status>\n    </d:propstat>\n  </d:response>\n")
	return err
}

func httpDate(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}

func escape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
