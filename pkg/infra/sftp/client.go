// Package sftp implements a resource source for SSH file transfer servers
package sftp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/utils/timeout"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout is the per request budget
const DefaultTimeout = 30 * time.Second

// HostKeyConfig controls server verification
type HostKeyConfig struct {
	// KnownHostsFile is an OpenSSH known_hosts file. Empty means ~/.ssh/known_hosts.
	KnownHostsFile string
	// Insecure disables host key verification
	Insecure bool
}

// Client lists and fetches files over SFTP. One SSH connection is shared by all
// fetches; the SFTP client multiplexes concurrent requests.
type Client struct {
	endpoint *model.Endpoint
	creds    model.Credentials
	hostKey  HostKeyConfig
	timeout  time.Duration

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
}

var _ interfaces.ResourceSource = (*Client)(nil)

// New creates an SFTP client. The connection is opened on first use.
func New(endpoint *model.Endpoint, creds model.Credentials, hostKey HostKeyConfig, budget time.Duration) *Client {
	if budget <= 0 {
		budget = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		hostKey:  hostKey,
		timeout:  budget,
	}
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if len(c.creds.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)
		if c.creds.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(c.creds.PrivateKey, []byte(c.creds.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(c.creds.PrivateKey)
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse private key", goerr.T(types.ErrTagConfiguration))
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(c.creds.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !c.hostKey.Insecure {
		file := c.hostKey.KnownHostsFile
		if file == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to locate known_hosts", goerr.T(types.ErrTagConfiguration))
			}
			file = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load known_hosts",
				goerr.V("file", file),
				goerr.T(types.ErrTagConfiguration))
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.timeout,
	}, nil
}

func (c *Client) client(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}

	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.endpoint.HostPort()
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(err, "failed to connect", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, classify(err, "ssh handshake failed", addr)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, classify(err, "failed to start sftp subsystem", addr)
	}

	ctxlog.From(ctx).Debug("SFTP session established", "addr", addr, "user", c.creds.Username)
	c.ssh = sshClient
	c.sftp = sftpClient
	return sftpClient, nil
}

// List walks the tree below the root path
func (c *Client) List(ctx context.Context) ([]model.RemotePath, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	root := c.endpoint.FullPath("")
	seen := make(map[model.RemotePath]struct{})
	walker := client.Walk(root)

	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "listing aborted")
		}
		if err := walker.Err(); err != nil {
			return nil, classify(err, "failed to walk remote tree", walker.Path())
		}

		info := walker.Stat()
		if info == nil || !info.Mode().IsRegular() {
			continue
		}

		rel, ok := relativePath(walker.Path(), root)
		if !ok {
			continue
		}
		seen[model.RemotePath(rel)] = struct{}{}
	}

	files := make([]model.RemotePath, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files, nil
}

// Fetch opens path for reading
func (c *Client) Fetch(ctx context.Context, p model.RemotePath) (io.ReadCloser, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	full := c.endpoint.FullPath(p)
	f, err := client.Open(full)
	if err != nil {
		return nil, classify(err, "failed to open file", full)
	}

	return timeout.NewReader(f, c.timeout, func() { _ = f.Close() }), nil
}

// Close tears down the SSH session
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp == nil {
		return nil
	}
	err := c.sftp.Close()
	if cerr := c.ssh.Close(); err == nil {
		err = cerr
	}
	c.sftp, c.ssh = nil, nil
	return err
}

func relativePath(full, root string) (string, bool) {
	full = path.Clean("/" + full)
	if root == "/" {
		return strings.TrimPrefix(full, "/"), full != "/"
	}
	rest, ok := strings.CutPrefix(full, root+"/")
	return rest, ok && rest != ""
}

// classify tags SFTP failures. Only timeouts are retried; SFTP status codes such as
// "no such file" or "permission denied" are permanent.
func classify(err error, msg, target string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return goerr.Wrap(err, msg, goerr.V("target", target), goerr.T(types.ErrTagTimeout))
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return goerr.Wrap(err, msg,
			goerr.V("target", target),
			goerr.V("status", int(statusErr.Code)),
			goerr.T(types.ErrTagPermanent))
	}
	return goerr.Wrap(err, msg, goerr.V("target", target), goerr.T(types.ErrTagPermanent))
}
