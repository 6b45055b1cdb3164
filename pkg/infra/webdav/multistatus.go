package webdav

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

const davNamespace = "DAV:"

// entry is one <response> element of a multi-status document
type entry struct {
	href         string
	isCollection bool
}

// Listing is the interpreted content of a multi-status document
type Listing struct {
	Files []model.RemotePath
	// Collections holds root relative directories, used to detect truncated listings
	Collections []string
	// Outside holds links that were not below the root path
	Outside []string
}

// ParseMultiStatus extracts file paths from a PROPFIND multi-status document. rootPath is the
// endpoint root without leading or trailing separator and is stripped from every link.
// Property order and completeness are not assumed.
func ParseMultiStatus(r io.Reader, rootPath string) (*Listing, error) {
	entries, err := decodeEntries(r)
	if err != nil {
		return nil, err
	}

	listing := &Listing{}
	files := make(map[model.RemotePath]struct{})

	for _, e := range entries {
		rel, ok := relativePath(e.href, rootPath)
		if !ok {
			listing.Outside = append(listing.Outside, e.href)
			continue
		}

		if e.isCollection {
			if rel != "" {
				listing.Collections = append(listing.Collections, rel)
			}
			continue
		}
		if rel == "" {
			continue
		}
		files[model.RemotePath(rel)] = struct{}{}
	}

	listing.Files = make([]model.RemotePath, 0, len(files))
	for p := range files {
		listing.Files = append(listing.Files, p)
	}
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i] < listing.Files[j] })
	sort.Strings(listing.Collections)

	return listing, nil
}

// decodeEntries walks the token stream so that <response> elements are found at any
// nesting level and unknown elements are skipped
func decodeEntries(r io.Reader) ([]entry, error) {
	dec := xml.NewDecoder(r)

	var (
		entries  []entry
		current  *entry
		depth    int // nesting depth inside the current <response>
		inHref   bool
		hrefSeen bool
		hrefBuf  bytes.Buffer
		sawRoot  bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse multi-status document")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				sawRoot = true
				if t.Name.Space != davNamespace || t.Name.Local != "multistatus" {
					return nil, goerr.New("document is not a multi-status response",
						goerr.V("root", t.Name.Space+" "+t.Name.Local))
				}
				continue
			}

			if current == nil {
				if isDAV(t.Name, "response") {
					current = &entry{}
					depth = 0
					hrefSeen = false
				}
				continue
			}

			depth++
			switch {
			case isDAV(t.Name, "href") && !hrefSeen:
				inHref = true
				hrefBuf.Reset()
			case isDAV(t.Name, "collection"):
				current.isCollection = true
			}

		case xml.CharData:
			if inHref {
				hrefBuf.Write(t)
			}

		case xml.EndElement:
			if current == nil {
				continue
			}
			if inHref && isDAV(t.Name, "href") {
				inHref = false
				hrefSeen = true
				current.href = strings.TrimSpace(hrefBuf.String())
				depth--
				continue
			}
			if depth == 0 && isDAV(t.Name, "response") {
				if current.href != "" {
					entries = append(entries, *current)
				}
				current = nil
				continue
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, goerr.New("empty multi-status document")
	}

	return entries, nil
}

func isDAV(name xml.Name, local string) bool {
	return name.Space == davNamespace && name.Local == local
}

// relativePath turns a link (absolute URL or absolute path, percent-encoded) into a path
// relative to rootPath. ok is false if the link is not below rootPath.
func relativePath(href, rootPath string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	// url.Parse has already percent-decoded u.Path
	p := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	if rootPath == "" {
		return p, true
	}
	if p == rootPath {
		return "", true
	}
	if rest, ok := strings.CutPrefix(p, rootPath+"/"); ok {
		return rest, true
	}
	return "", false
}
