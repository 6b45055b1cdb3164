package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// Scheme names accepted by ParseEndpoint
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFTP   = "ftp"
	SchemeSFTP  = "sftp"
)

var defaultPorts = map[string]int{
	SchemeHTTP:  80,
	SchemeHTTPS: 443,
	SchemeFTP:   21,
	SchemeSFTP:  22,
}

// Endpoint is the parsed root of a remote resource tree
type Endpoint struct {
	Scheme string
	Host   string
	Port   int // 0 if not given in the URL
	// RootPath never begins or ends with a separator. Empty means server root.
	RootPath string
	// Warnings holds non-fatal diagnostics found while parsing
	Warnings []string
}

// ParseEndpoint parses rootURL into an Endpoint. Query, fragment and user info are dropped.
func ParseEndpoint(rootURL string) (*Endpoint, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid endpoint address",
			goerr.T(types.ErrTagConfiguration))
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return nil, goerr.New("unsupported endpoint scheme",
			goerr.V("scheme", u.Scheme),
			goerr.T(types.ErrTagConfiguration))
	}
	if u.Hostname() == "" {
		return nil, goerr.New("endpoint has no host", goerr.T(types.ErrTagConfiguration))
	}
	if strings.Contains(u.Path, "//") {
		return nil, goerr.New("endpoint path contains a doubled separator",
			goerr.V("path", u.Path),
			goerr.T(types.ErrTagConfiguration))
	}

	ep := &Endpoint{
		Scheme:   scheme,
		Host:     u.Hostname(),
		RootPath: strings.Trim(u.Path, "/"),
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, goerr.New("invalid endpoint port",
				goerr.V("port", p),
				goerr.T(types.ErrTagConfiguration))
		}
		ep.Port = port

		if want := defaultPorts[scheme]; port != want {
			ep.Warnings = append(ep.Warnings,
				fmt.Sprintf("%s is used with port %d instead of %d", strings.ToUpper(scheme), port, want))
		}
	}

	return ep, nil
}

// HostPort returns host:port, filling in the scheme default port when none was given
func (e *Endpoint) HostPort() string {
	port := e.Port
	if port == 0 {
		port = defaultPorts[e.Scheme]
	}
	return joinHostPort(e.Host, port)
}

func (e *Endpoint) netloc() string {
	if e.Port == 0 {
		return bracketIPv6(e.Host)
	}
	return joinHostPort(e.Host, e.Port)
}

// FullPath returns the absolute remote path of a resource, e.g. "/dav/files/a/b.txt"
func (e *Endpoint) FullPath(p RemotePath) string {
	var segs []string
	if e.RootPath != "" {
		segs = append(segs, e.RootPath)
	}
	if rp := strings.Trim(string(p), "/"); rp != "" {
		segs = append(segs, rp)
	}
	return "/" + strings.Join(segs, "/")
}

// ResourceURL builds the URL of a resource. It never contains a doubled separator.
func (e *Endpoint) ResourceURL(p RemotePath) *url.URL {
	return &url.URL{
		Scheme: e.Scheme,
		Host:   e.netloc(),
		Path:   e.FullPath(p),
	}
}

// RootURL is the URL of the tree root. Collections are addressed with a trailing slash.
func (e *Endpoint) RootURL() *url.URL {
	u := e.ResourceURL("")
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u
}

// String returns the root URL. Credentials are never part of an Endpoint.
func (e *Endpoint) String() string {
	return e.RootURL().String()
}

func joinHostPort(host string, port int) string {
	return bracketIPv6(host) + ":" + strconv.Itoa(port)
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
