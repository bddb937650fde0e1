// Package mocks provides testify mocks for the domain interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/stretchr/testify/mock"
)

type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

// MockMessagePublisher is a mock of domain.MessagePublisher.
type MockMessagePublisher struct {
	mock.Mock
}

// NewMockMessagePublisher creates a publisher mock whose expectations are
// asserted when the test ends.
func NewMockMessagePublisher(t cleanupT) *MockMessagePublisher {
	m := &MockMessagePublisher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockMessagePublisher) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMessagePublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	args := m.Called(ctx, topic, data)
	return args.Error(0)
}

func (m *MockMessagePublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockMonitoringService is a mock of domain.MonitoringService.
type MockMonitoringService struct {
	mock.Mock
}

// NewMockMonitoringService creates a monitoring mock whose expectations are
// asserted when the test ends.
func NewMockMonitoringService(t cleanupT) *MockMonitoringService {
	m := &MockMonitoringService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockMonitoringService) Send(ctx context.Context, snapshot *domain.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockMonitoringService) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMonitoringService) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSnapshotReader mocks a reader that can be both polled and queried.
type MockSnapshotReader struct {
	mock.Mock
}

// NewMockSnapshotReader creates a reader mock whose expectations are
// asserted when the test ends.
func NewMockSnapshotReader(t cleanupT) *MockSnapshotReader {
	m := &MockSnapshotReader{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSnapshotReader) Update(ctx context.Context, force bool) (bool, error) {
	args := m.Called(ctx, force)
	return args.Bool(0), args.Error(1)
}

func (m *MockSnapshotReader) Snapshot() domain.Snapshot {
	args := m.Called()
	return args.Get(0).(domain.Snapshot)
}

func (m *MockSnapshotReader) Errors() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func (m *MockSnapshotReader) NextUpdate() time.Time {
	args := m.Called()
	return args.Get(0).(time.Time)
}

// MockExchanger is a mock of domain.Exchanger.
type MockExchanger struct {
	mock.Mock
}

// NewMockExchanger creates an exchanger mock whose expectations are
// asserted when the test ends.
func NewMockExchanger(t cleanupT) *MockExchanger {
	m := &MockExchanger{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockExchanger) Exchange(ctx context.Context, command string) ([]byte, error) {
	args := m.Called(ctx, command)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
