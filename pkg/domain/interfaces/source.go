package interfaces

import (
	"context"
	"io"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
)

// ResourceLister discovers the files below an endpoint root
type ResourceLister interface {
	// List returns the sorted, de-duplicated set of root relative file paths
	List(ctx context.Context) ([]model.RemotePath, error)
}

// ResourceFetcher retrieves the content of a single file
type ResourceFetcher interface {
	// Fetch opens the content of path. Errors are tagged with types.ErrTagTimeout,
	// types.ErrTagRetryable or types.ErrTagPermanent; reads from the returned body
	// report timeouts the same way.
	Fetch(ctx context.Context, path model.RemotePath) (io.ReadCloser, error)
}

// ResourceSource is a protocol specific implementation of the remote tree
type ResourceSource interface {
	ResourceLister
	ResourceFetcher
	Close() error
}
