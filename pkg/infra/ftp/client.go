// Package ftp implements a resource source for plain FTP servers
package ftp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/timeout"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultTimeout is the per request budget
const DefaultTimeout = 30 * time.Second

const anonymousUser = "anonymous"

// Client lists and fetches files over FTP. The control connection is not safe for
// concurrent use, so every Fetch dials its own connection.
type Client struct {
	endpoint *model.Endpoint
	creds    model.Credentials
	timeout  time.Duration
}

var _ interfaces.ResourceSource = (*Client)(nil)

// New creates an FTP client for endpoint
func New(endpoint *model.Endpoint, creds model.Credentials, budget time.Duration) *Client {
	if budget <= 0 {
		budget = DefaultTimeout
	}
	if creds.Username == "" {
		creds.Username = anonymousUser
		creds.Password = anonymousUser
	}
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		timeout:  budget,
	}
}

func (c *Client) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(c.endpoint.HostPort(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.timeout),
	)
	if err != nil {
		return nil, classify(err, "failed to connect", c.endpoint.HostPort())
	}

	if err := conn.Login(c.creds.Username, c.creds.Password); err != nil {
		_ = conn.Quit()
		return nil, classify(err, "failed to login", c.endpoint.HostPort())
	}
	return conn, nil
}

// List walks the tree below the root path
func (c *Client) List(ctx context.Context) ([]model.RemotePath, error) {
	logger := ctxlog.From(ctx)

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Quit() }()

	root := c.endpoint.FullPath("")
	seen := make(map[model.RemotePath]struct{})
	walker := conn.Walk(root)

	for walker.Next() {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "listing aborted")
		}

		entry := walker.Stat()
		if entry == nil || entry.Type != ftp.EntryTypeFile {
			continue
		}

		rel, ok := relativePath(walker.Path(), root)
		if !ok {
			logger.Warn("Skipping path outside of root", "path", walker.Path(), "root", root)
			continue
		}
		seen[model.RemotePath(rel)] = struct{}{}
	}
	if err := walker.Err(); err != nil {
		return nil, classify(err, "failed to walk remote tree", root)
	}

	files := make([]model.RemotePath, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files, nil
}

// Fetch retrieves path on a dedicated connection that is closed with the body
func (c *Client) Fetch(ctx context.Context, p model.RemotePath) (io.ReadCloser, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	full := c.endpoint.FullPath(p)
	resp, err := conn.Retr(full)
	if err != nil {
		_ = conn.Quit()
		return nil, classify(err, "failed to retrieve file", full)
	}

	rc := &retrBody{resp: resp, conn: conn}
	return timeout.NewReader(rc, c.timeout, func() { _ = rc.abort() }), nil
}

// Close is a no-op; connections are owned by List and Fetch calls
func (c *Client) Close() error {
	return nil
}

// retrBody finishes the transfer and the control connection together
type retrBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *retrBody) Read(p []byte) (int, error) {
	n, err := b.resp.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, classify(err, "failed to read file", "")
	}
	return n, err
}

func (b *retrBody) Close() error {
	err := b.resp.Close()
	if qerr := b.conn.Quit(); err == nil && qerr != nil && !errors.Is(qerr, net.ErrClosed) {
		err = qerr
	}
	if err != nil {
		return classify(err, "failed to finish transfer", "")
	}
	return nil
}

// abort unblocks a pending Read by tearing the data connection down
func (b *retrBody) abort() error {
	_ = b.resp.SetDeadline(time.Now())
	return b.resp.Close()
}

func relativePath(full, root string) (string, bool) {
	full = path.Clean("/" + full)
	if root == "/" {
		return strings.TrimPrefix(full, "/"), full != "/"
	}
	rest, ok := strings.CutPrefix(full, root+"/")
	return rest, ok && rest != ""
}

// classify tags FTP reply codes: 4xx transient negative completion is retryable,
// 5xx permanent negative completion is not
func classify(err error, msg, target string) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		tag := types.ErrTagPermanent
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			tag = types.ErrTagRetryable
		}
		return goerr.Wrap(err, msg,
			goerr.V("target", target),
			goerr.V("status", protoErr.Code),
			goerr.T(tag))
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return goerr.Wrap(err, msg, goerr.V("target", target), goerr.T(types.ErrTagTimeout))
	}
	return goerr.Wrap(err, msg, goerr.V("target", target), goerr.T(types.ErrTagPermanent))
}
