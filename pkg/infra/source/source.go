// Package source selects the resource source implementation for a job's endpoint scheme
package source

import (
	"github.com/m-mizutani/davmirror/pkg/domain/interfaces"
	"github.com/m-mizutani/davmirror/pkg/domain/model"
	"github.com/m-mizutani/davmirror/pkg/domain/types"
	"github.com/m-mizutani/davmirror/pkg/infra/ftp"
	"github.com/m-mizutani/davmirror/pkg/infra/sftp"
	"github.com/m-mizutani/davmirror/pkg/infra/webdav"
	"github.com/m-mizutani/goerr/v2"
)

// Options carries protocol specific settings that are not part of a job
type Options struct {
	SFTPHostKey sftp.HostKeyConfig
}

// Factory creates a source for the schemes it accepts
type Factory interface {
	Accept(scheme string) bool
	Create(job *model.Job, opts Options) interfaces.ResourceSource
	Name() string
}

type webdavFactory struct{}

func (webdavFactory) Accept(scheme string) bool {
	return scheme == model.SchemeHTTP || scheme == model.SchemeHTTPS
}

func (webdavFactory) Create(job *model.Job, _ Options) interfaces.ResourceSource {
	opts := []webdav.Option{webdav.WithDepth(job.Depth)}
	if job.Timeout > 0 {
		opts = append(opts, webdav.WithTimeout(job.Timeout))
	}
	return webdav.New(job.Endpoint, job.Credentials, opts...)
}

func (webdavFactory) Name() string { return "webdav" }

type ftpFactory struct{}

func (ftpFactory) Accept(scheme string) bool { return scheme == model.SchemeFTP }

func (ftpFactory) Create(job *model.Job, _ Options) interfaces.ResourceSource {
	return ftp.New(job.Endpoint, job.Credentials, job.Timeout)
}

func (ftpFactory) Name() string { return "ftp" }

type sftpFactory struct{}

func (sftpFactory) Accept(scheme string) bool { return scheme == model.SchemeSFTP }

func (sftpFactory) Create(job *model.Job, opts Options) interfaces.ResourceSource {
	return sftp.New(job.Endpoint, job.Credentials, opts.SFTPHostKey, job.Timeout)
}

func (sftpFactory) Name() string { return "sftp" }

var factories = []Factory{
	webdavFactory{},
	ftpFactory{},
	sftpFactory{},
}

// Lookup returns the factory accepting scheme
func Lookup(scheme string) (Factory, error) {
	for _, f := range factories {
		if f.Accept(scheme) {
			return f, nil
		}
	}
	return nil, goerr.New("no source available for scheme",
		goerr.V("scheme", scheme),
		goerr.T(types.ErrTagConfiguration))
}

// New creates the source for job
func New(job *model.Job, opts Options) (interfaces.ResourceSource, error) {
	if job.Endpoint == nil {
		return nil, goerr.New("job has no endpoint", goerr.T(types.ErrTagConfiguration))
	}
	f, err := Lookup(job.Endpoint.Scheme)
	if err != nil {
		return nil, err
	}
	return f.Create(job, opts), nil
}
