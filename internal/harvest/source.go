// Package harvest holds the types shared by listers, the transfer engine
// and the orchestrator: configured sources and discovered files.
package harvest

import (
	"net"
	"strconv"
	"time"
)

type Kind string

const (
	KindFTP  Kind = "ftp"
	KindSFTP Kind = "sftp"
	KindHTTP Kind = "http"
)

// Kinds lists every protocol in the order the orchestrator evaluates them.
func Kinds() []Kind { return []Kind{KindFTP, KindSFTP, KindHTTP} }

func (k Kind) Valid() bool {
	switch k {
	case KindFTP, KindSFTP, KindHTTP:
		return true
	}
	return false
}

// ListHandler selects how an HTTP source is listed.
type ListHandler string

const (
	ListStandard  ListHandler = "standard"
	ListPaginated ListHandler = "paginated"
)

// Source is one configured feed.
type Source struct {
	ID            string     `yaml:"id" json:"id"`
	Name          string     `yaml:"name" json:"name"`
	Kind          Kind       `yaml:"kind" json:"kind"`
	Enabled       bool       `yaml:"enabled" json:"enabled"`
	Schedule      string     `yaml:"schedule" json:"schedule"`
	Transfile     string     `yaml:"transfile" json:"transfile"`
	Agency        string     `yaml:"agency" json:"agency"`
	SeqnoExtract  string     `yaml:"seqno_extract" json:"seqno_extract,omitempty"`
	Seqno         *int       `yaml:"seqno" json:"seqno,omitempty"`
	LastHarvested *time.Time `yaml:"last_harvested" json:"last_harvested,omitempty"`

	// FTP and SFTP
	Host         string `yaml:"host" json:"host,omitempty"`
	Port         int    `yaml:"port" json:"port,omitempty"`
	Username     string `yaml:"username" json:"username,omitempty"`
	Password     string `yaml:"password" json:"-"`
	PrivateKey   string `yaml:"private_key" json:"-"`
	Dir          string `yaml:"dir" json:"dir,omitempty"`
	FilesPattern string `yaml:"files_pattern" json:"files_pattern,omitempty"`

	// HTTP
	URL         string            `yaml:"url" json:"url,omitempty"`
	URLPattern  string            `yaml:"url_pattern" json:"url_pattern,omitempty"`
	Headers     map[string]string `yaml:"headers" json:"headers,omitempty"`
	ListHandler ListHandler       `yaml:"list_handler" json:"list_handler,omitempty"`
}

// Label returns a name suitable for logs.
func (s Source) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Addr joins host and port, falling back to the protocol default.
func (s Source) Addr() string {
	port := s.Port
	if port == 0 {
		switch s.Kind {
		case KindSFTP:
			port = 22
		default:
			port = 21
		}
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}
