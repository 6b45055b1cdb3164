// Package webdav implements a resource source for WebDAV servers (Nextcloud, ownCloud,
// Apache mod_dav, ...) using one PROPFIND for discovery and one GET per file.
package webdav

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/timeout"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultDepth keeps server side recursion small
	DefaultDepth = 2
	// DefaultTimeout is the per request budget
	DefaultTimeout = 30 * time.Second

	methodPropfind = "PROPFIND"
	propfindBody   = `<?xml version="1.0" encoding="utf-8"?>` +
		`<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/></d:prop></d:propfind>`
)

// config holds internal client configuration
type config struct {
	depth      int
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
}

// Option is a functional option for Client configuration
type Option func(*config)

// WithDepth sets the Depth header of the listing request
func WithDepth(depth int) Option {
	return func(c *config) {
		c.depth = depth
	}
}

// WithTimeout sets the per request budget
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client; the budget is still applied to body reads
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *config) {
		c.userAgent = ua
	}
}

// Client lists and fetches resources of one WebDAV endpoint
type Client struct {
	endpoint *model.Endpoint
	username string
	password string
	cfg      *config
}

var _ interfaces.ResourceSource = (*Client)(nil)

// New creates a WebDAV client for endpoint
func New(endpoint *model.Endpoint, creds model.Credentials, opts ...Option) *Client {
	cfg := &config{
		depth:     DefaultDepth,
		timeout:   DefaultTimeout,
		userAgent: types.AppName + "/" + types.Version,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.depth < 0 {
		cfg.depth = 0
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{
			Transport: newTransport(cfg.timeout),
		}
	}

	return &Client{
		endpoint: endpoint,
		username: creds.Username,
		password: creds.Password,
		cfg:      cfg,
	}
}

func newTransport(budget time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   budget,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = budget
	transport.ResponseHeaderTimeout = budget
	transport.MaxIdleConnsPerHost = 16
	return transport
}

// List issues one PROPFIND request against the root and returns all files below it
func (c *Client) List(ctx context.Context) ([]model.RemotePath, error) {
	logger := ctxlog.From(ctx)
	rootURL := c.endpoint.RootURL().String()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, methodPropfind, rootURL, strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", strconv.Itoa(c.cfg.depth))
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err, "listing request failed", rootURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp, "unexpected listing status", rootURL)
	}

	listing, err := ParseMultiStatus(resp.Body, c.endpoint.RootPath)
	if err != nil {
		if isTimeout(err) {
			return nil, transportError(err, "listing response timed out", rootURL)
		}
		return nil, goerr.Wrap(err, "unparsable listing response",
			goerr.V("url", rootURL),
			goerr.T(types.ErrTagPermanent))
	}

	for _, href := range listing.Outside {
		logger.Warn("Skipping link outside of root path", "href", href, "root", c.endpoint.RootPath)
	}
	for _, dir := range listing.Collections {
		if strings.Count(dir, "/")+1 >= c.cfg.depth {
			logger.Warn("Directory at listing depth limit, its contents may be missing",
				"dir", dir,
				"depth", c.cfg.depth,
			)
		}
	}

	logger.Debug("Parsed listing",
		"files", len(listing.Files),
		"collections", len(listing.Collections),
	)

	return listing.Files, nil
}

// Fetch issues a GET for path. The returned body fails with a timeout error if no data
// arrives within the per request budget.
func (c *Client) Fetch(ctx context.Context, path model.RemotePath) (io.ReadCloser, error) {
	resourceURL := c.endpoint.ResourceURL(path).String()

	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, transportError(err, "download request failed", resourceURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, statusError(resp, "unexpected download status", resourceURL)
	}

	return &body{
		Reader: timeout.NewReader(resp.Body, c.cfg.timeout, cancel),
		cancel: cancel,
		status: resp.StatusCode,
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.cfg.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request",
			goerr.V("method", method),
			goerr.V("url", url),
			goerr.T(types.ErrTagPermanent))
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("User-Agent", c.cfg.userAgent)
	return req, nil
}

// body closes the request context together with the response body
type body struct {
	*timeout.Reader
	cancel context.CancelFunc
	status int
}

func (b *body) Close() error {
	err := b.Reader.Close()
	b.cancel()
	return err
}

// Status returns the HTTP status of the response
func (b *body) Status() int {
	return b.status
}

func statusError(resp *http.Response, msg, url string) error {
	tag := types.ErrTagPermanent
	if model.IsRetryableHTTPStatus(resp.StatusCode) {
		tag = types.ErrTagRetryable
	}
	return goerr.New(msg,
		goerr.V("url", url),
		goerr.V("status", resp.StatusCode),
		goerr.V("reason", http.StatusText(resp.StatusCode)),
		goerr.T(tag))
}

func transportError(err error, msg, url string) error {
	tag := types.ErrTagPermanent
	if isTimeout(err) {
		tag = types.ErrTagTimeout
	}
	return goerr.Wrap(err, msg, goerr.V("url", url), goerr.T(tag))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if goerr.HasTag(err, types.ErrTagTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
