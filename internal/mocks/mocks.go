// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/host"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Protocol() config.ProtocolConfig {
	args := m.Called()
	return args.Get(0).(config.ProtocolConfig)
}

func (m *MockConfig) Resolver() config.ResolverConfig {
	args := m.Called()
	return args.Get(0).(config.ResolverConfig)
}

func (m *MockConfig) Inspector() config.InspectorConfig {
	args := m.Called()
	return args.Get(0).(config.InspectorConfig)
}

func (m *MockConfig) Console() config.ConsoleConfig {
	args := m.Called()
	return args.Get(0).(config.ConsoleConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Host() config.HostConfig {
	args := m.Called()
	return args.Get(0).(config.HostConfig)
}

// NewMockConfigFrom returns a MockConfig whose getters answer from cfg.
func NewMockConfigFrom(cfg config.Interface) *MockConfig {
	m := new(MockConfig)
	m.On("Logger").Return(cfg.Logger()).Maybe()
	m.On("Protocol").Return(cfg.Protocol()).Maybe()
	m.On("Resolver").Return(cfg.Resolver()).Maybe()
	m.On("Inspector").Return(cfg.Inspector()).Maybe()
	m.On("Console").Return(cfg.Console()).Maybe()
	m.On("Server").Return(cfg.Server()).Maybe()
	m.On("Host").Return(cfg.Host()).Maybe()
	return m
}

// -- Host Mocks --

// MockWindowResolver mocks host.WindowResolver.
type MockWindowResolver struct {
	mock.Mock
}

var _ host.WindowResolver = (*MockWindowResolver)(nil)

func (m *MockWindowResolver) ResolveWindow(windowID, fallbackID string) (*host.Window, bool) {
	args := m.Called(windowID, fallbackID)
	w, _ := args.Get(0).(*host.Window)
	return w, args.Bool(1)
}

// MockViewRegistry mocks host.ViewRegistry.
type MockViewRegistry struct {
	mock.Mock
}

var _ host.ViewRegistry = (*MockViewRegistry)(nil)

func (m *MockViewRegistry) ResolveView(id string) (*host.View, bool) {
	args := m.Called(id)
	v, _ := args.Get(0).(*host.View)
	return v, args.Bool(1)
}

// -- Bridge Service Mock --

// MockService mocks the bridge surface served by the API server.
type MockService struct {
	mock.Mock
}

func (m *MockService) Inspect(ctx context.Context, req schemas.InspectRequest) (*schemas.ElementData, error) {
	args := m.Called(ctx, req)
	data, _ := args.Get(0).(*schemas.ElementData)
	return data, args.Error(1)
}

func (m *MockService) Cancel(channel, token string) bool {
	return m.Called(channel, token).Bool(0)
}

func (m *MockService) StartConsoleCapture(ctx context.Context, req schemas.ConsoleCaptureRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockService) CancelConsoleCapture(locator schemas.TargetLocator, token string) bool {
	return m.Called(locator, token).Bool(0)
}

func (m *MockService) Logs(key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

func (m *MockService) Targets(ctx context.Context, windowID string) ([]*target.Info, error) {
	args := m.Called(ctx, windowID)
	infos, _ := args.Get(0).([]*target.Info)
	return infos, args.Error(1)
}
