// Package config reads the webdavd server-config XML document.
package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Namespace is the server-config document's XML namespace.
const Namespace = "http://couling.me/webdavd"

// Listen describes one <listen> block.
type Listen struct {
	Port       int    `xml:"port"`
	Host       string `xml:"host"`
	Encryption string `xml:"encryption"` // "none" or "ssl"
}

// SSLCert describes one <ssl-cert> block.
type SSLCert struct {
	Certificate string   `xml:"certificate"`
	Key         string   `xml:"key"`
	Chain       []string `xml:"chain"`
}

// Server is one parsed <server> block, with defaults applied.
type Server struct {
	Listen          []Listen
	SessionTimeout  time.Duration
	MaxUserSessions int
	Restricted      string
	MimeFile        string
	RapBinary       string
	PamService      string
	AccessLog       string
	ErrorLog        string
	SSLCerts        []SSLCert
}

// Config is the parsed document. Only the first <server> block is
// applied; later ones are logged and skipped.
type Config struct {
	Server Server
}

type xmlListen struct {
	Port       int    `xml:"port"`
	Host       string `xml:"host"`
	Encryption string `xml:"encryption"`
}

type xmlSSLCert struct {
	Certificate string   `xml:"certificate"`
	Key         string   `xml:"key"`
	Chain       []string `xml:"chain"`
}

type xmlServer struct {
	Listen          []xmlListen  `xml:"listen"`
	SessionTimeout  string       `xml:"session-timeout"`
	MaxUserSessions *int         `xml:"max-user-sessions"`
	Restricted      string       `xml:"restricted"`
	MimeFile        string       `xml:"mime-file"`
	RapBinary       string       `xml:"rap-binary"`
	PamService      string       `xml:"pam-service"`
	AccessLog       string       `xml:"access-log"`
	ErrorLog        string       `xml:"error-log"`
	SSLCert         []xmlSSLCert `xml:"ssl-cert"`
}

type xmlServerConfig struct {
	XMLName xml.Name    `xml:"server-config"`
	Servers []xmlServer `xml:"server"`
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer f.Close()
	return Parse(f, logrus.StandardLogger())
}

// Parse is the testable core of Load.
func Parse(r io.Reader, log logrus.FieldLogger) (*Config, error) {
	var raw xmlServerConfig
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "config: malformed server-config document")
	}

	if len(raw.Servers) == 0 {
		return nil, errors.New("config: server-config document has no <server> block")
	}
	for i := 1; i < len(raw.Servers); i++ {
		if log != nil {
			log.Warnf("config: skipping additional <server> block #%d (only the first <server> is applied)", i+1)
		}
	}

	server, err := toServer(raw.Servers[0])
	if err != nil {
		return nil, err
	}
	return &Config{Server: server}, nil
}

func toServer(raw xmlServer) (Server, error) {
	s := Server{
		SessionTimeout:  5 * time.Minute,
		MaxUserSessions: 10,
		Restricted:      raw.Restricted,
		MimeFile:        "/etc/mime.types",
		RapBinary:       "/usr/sbin/rap",
		PamService:      "webdav",
		AccessLog:       "/var/log/webdavd-access.log",
		ErrorLog:        "/var/log/webdavd-error.log",
	}

	if raw.SessionTimeout != "" {
		d, err := parseTimeout(raw.SessionTimeout)
		if err != nil {
			return Server{}, errors.Wrap(err, "config: session-timeout")
		}
		s.SessionTimeout = d
	}
	if raw.MaxUserSessions != nil {
		s.MaxUserSessions = *raw.MaxUserSessions
	}
	if raw.MimeFile != "" {
		s.MimeFile = raw.MimeFile
	}
	if raw.RapBinary != "" {
		s.RapBinary = raw.RapBinary
	}
	if raw.PamService != "" {
		s.PamService = raw.PamService
	}
	if raw.AccessLog != "" {
		s.AccessLog = raw.AccessLog
	}
	if raw.ErrorLog != "" {
		s.ErrorLog = raw.ErrorLog
	}

	for _, l := range raw.Listen {
		s.Listen = append(s.Listen, Listen{Port: l.Port, Host: l.Host, Encryption: l.Encryption})
	}
	for _, c := range raw.SSLCert {
		s.SSLCerts = append(s.SSLCerts, SSLCert{Certificate: c.Certificate, Key: c.Key, Chain: c.Chain})
	}

	return s, nil
}

// parseTimeout accepts the "HH:MM:SS", "MM:SS" and bare "SS" forms.
func parseTimeout(raw string) (time.Duration, error) {
	var h, m, sec int
	switch countColons(raw) {
	case 2:
		if _, err := fmt.Sscanf(raw, "%d:%d:%d", &h, &m, &sec); err != nil {
			return 0, err
		}
	case 1:
		if _, err := fmt.Sscanf(raw, "%d:%d", &m, &sec); err != nil {
			return 0, err
		}
	case 0:
		if _, err := fmt.Sscanf(raw, "%d", &sec); err != nil {
			return 0, err
		}
	default:
		return 0, errors.Errorf("config: unparseable timeout %q", raw)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func countColons(s string) int {
	n := 0
	for _, r := range s {
		if r == ':' {
			n++
		}
	}
	return n
}
