package httpd

import (
	"embed"
	"os"
)

//go:embed pages/*.html
var embeddedPages embed.FS

func loadStaticPage(embeddedName, overridePath string) ([]byte, error) {
	if overridePath != "" {
		if data, err := os.ReadFile(overridePath); err == nil {
			return data, nil
		}
	}
	return embeddedPages.ReadFile("pages/" + embeddedName)
}

// StaticPages holds every static response body the server can send
// without consulting a RAP.
type StaticPages struct {
	Options             []byte
	Forbidden           []byte
	NotFound            []byte
	BadRequest          []byte
	InternalServerError []byte
	Unauthorized        []byte
	MethodNotAllowed    []byte
	InsufficientStorage []byte
	Conflict            []byte
}

// StaticPageOverrides lets an operator replace any embedded default with a
// file on disk; empty fields keep the embedded default.
type StaticPageOverrides struct {
	Options, Forbidden, NotFound, BadRequest            string
	InternalServerError, Unauthorized, MethodNotAllowed string
	InsufficientStorage, Conflict                       string
}

// LoadStaticPages loads every static page, applying any overrides.
func LoadStaticPages(o StaticPageOverrides) (*StaticPages, error) {
	var err error
	p := &StaticPages{}
	load := func(embeddedName, override string) []byte {
		if err != nil {
			return nil
		}
		var data []byte
		data, err = loadStaticPage(embeddedName, override)
		return data
	}
	p.Options = load("options.html", o.Options)
	p.Forbidden = load("forbidden.html", o.Forbidden)
	p.NotFound = load("not_found.html", o.NotFound)
	p.BadRequest = load("bad_request.html", o.BadRequest)
	p.InternalServerError = load("internal_server_error.html", o.InternalServerError)
	p.Unauthorized = load("unauthorized.html", o.Unauthorized)
	p.MethodNotAllowed = load("method_not_allowed.html", o.MethodNotAllowed)
	p.InsufficientStorage = load("insufficient_storage.html", o.InsufficientStorage)
	p.Conflict = load("conflict.html", o.Conflict)
	if err != nil {
		return nil, err
	}
	return p, nil
}
