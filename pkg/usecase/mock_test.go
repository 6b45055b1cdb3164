package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
)

// MockSource is a mock implementation of interfaces.ResourceSource
type MockSource struct {
	listFunc  func(ctx context.Context) ([]model.RemotePath, error)
	fetchFunc func(ctx context.Context, path model.RemotePath) (io.ReadCloser, error)

	mu         sync.Mutex
	listCalls  int
	fetchCalls []model.RemotePath
	closed     bool
}

func (m *MockSource) List(ctx context.Context) ([]model.RemotePath, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()

	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return nil, errors.New("mock not configured")
}

func (m *MockSource) Fetch(ctx context.Context, path model.RemotePath) (io.ReadCloser, error) {
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, path)
	m.mu.Unlock()

	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, path)
	}
	return nil, errors.New("mock not configured")
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSource) FetchCount(path model.RemotePath) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.fetchCalls {
		if p == path {
			n++
		}
	}
	return n
}

func (m *MockSource) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetchCalls)
}

// MockNotifier records the reports it receives
type MockNotifier struct {
	err error

	mu      sync.Mutex
	reports []*model.RunReport
}

func (m *MockNotifier) Notify(ctx context.Context, report *model.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return m.err
}

func (m *MockNotifier) Reports() []*model.RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.RunReport(nil), m.reports...)
}
