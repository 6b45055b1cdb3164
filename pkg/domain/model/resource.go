package model

import (
	"path"
	"path/filepath"
)

// RemotePath is a slash separated path of a file relative to the endpoint root
type RemotePath string

// LocalPath is a sanitized, slash separated path relative to the local destination root
type LocalPath string

// Dir returns the parent directory of the path, or "" for top level files
func (p LocalPath) Dir() string {
	d := path.Dir(string(p))
	if d == "." {
		return ""
	}
	return d
}

// Join resolves the path below root using the host separator
func (p LocalPath) Join(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// ResourceRecord pairs a discovered remote file with its local destination
type ResourceRecord struct {
	Remote RemotePath
	Local  LocalPath
}

// Conflict reports a remote path whose sanitized form is already taken by another one
type Conflict struct {
	Remote    RemotePath
	Local     LocalPath
	ClaimedBy RemotePath
}
