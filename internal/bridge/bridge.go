// Package bridge ties window resolution, target discovery, the debug session and the
// pick workflow into the operations callers use.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/consolelog"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/geometry"
	"github.com/xkilldash9x/inspectbridge/internal/host"
	"github.com/xkilldash9x/inspectbridge/internal/inspector"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
	"github.com/xkilldash9x/inspectbridge/internal/resolver"
)

// ErrNoWindow is returned by operations that cannot proceed without a host window.
var ErrNoWindow = errors.New("host window not found")

// ChannelFactory creates a protocol channel for a window.
type ChannelFactory func(w *host.Window) protocol.Channel

// Option configures a Bridge.
type Option func(*Bridge)

// WithChannelFactory replaces how channels to host windows are created.
func WithChannelFactory(f ChannelFactory) Option {
	return func(b *Bridge) { b.newChannel = f }
}

// WithRegistry makes the bridge record console logs into reg.
func WithRegistry(reg *consolelog.Registry) Option {
	return func(b *Bridge) { b.registry = reg }
}

type requestKey struct {
	channel string
	token   string
}

// inflightRequest is the cancel handle of one running inspection. Requests that share
// a key are tracked separately.
type inflightRequest struct {
	cancel context.CancelFunc
}

// Bridge serves inspection and console capture requests.
type Bridge struct {
	cfg        config.Interface
	windows    host.WindowResolver
	views      host.ViewRegistry
	resolver   *resolver.Resolver
	sessions   *debugsession.Manager
	inspector  *inspector.Inspector
	registry   *consolelog.Registry
	recorder   *consolelog.Recorder
	newChannel ChannelFactory
	logger     *zap.Logger

	// baseCtx bounds every inspection and console capture; Close cancels it.
	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	channels map[string]protocol.Channel
	locks    map[string]*semaphore.Weighted
	inflight map[requestKey]map[*inflightRequest]struct{}
}

func New(cfg config.Interface, windows host.WindowResolver, views host.ViewRegistry, logger *zap.Logger, opts ...Option) *Bridge {
	logger = logger.Named("bridge")
	baseCtx, stop := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		windows:   windows,
		views:     views,
		resolver:  resolver.New(views, cfg.Resolver(), logger),
		sessions:  debugsession.NewManager(logger, cfg.Protocol().CleanupTimeout),
		inspector: inspector.New(cfg.Inspector(), cfg.Protocol().CleanupTimeout, logger),
		logger:    logger,
		baseCtx:   baseCtx,
		stop:      stop,
		channels:  make(map[string]protocol.Channel),
		locks:     make(map[string]*semaphore.Weighted),
		inflight:  make(map[requestKey]map[*inflightRequest]struct{}),
	}
	b.newChannel = b.dialChannel
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = consolelog.NewRegistry(cfg.Console().Capacity)
	}
	b.recorder = consolelog.NewRecorder(b.registry, logger)
	return b
}

func (b *Bridge) dialChannel(w *host.Window) protocol.Channel {
	pc := b.cfg.Protocol()
	return protocol.NewConn(w.Endpoint, b.logger,
		protocol.WithCommandTimeout(pc.CommandTimeout),
		protocol.WithDialTimeout(pc.DialTimeout))
}

// Registry returns the console log registry.
func (b *Bridge) Registry() *consolelog.Registry {
	return b.registry
}

// windowChannel returns the shared channel for w, creating it on first use.
func (b *Bridge) windowChannel(w *host.Window) protocol.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[w.ID]
	if !ok {
		ch = b.newChannel(w)
		b.channels[w.ID] = ch
	}
	return ch
}

func (b *Bridge) windowLock(id string) *semaphore.Weighted {
	b.mu.Lock()
	defer b.mu.Unlock()
	sem, ok := b.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		b.locks[id] = sem
	}
	return sem
}

func (b *Bridge) track(key requestKey, cancel context.CancelFunc) *inflightRequest {
	req := &inflightRequest{cancel: cancel}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight[key] == nil {
		b.inflight[key] = make(map[*inflightRequest]struct{})
	}
	b.inflight[key][req] = struct{}{}
	return req
}

func (b *Bridge) untrack(key requestKey, req *inflightRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight[key], req)
	if len(b.inflight[key]) == 0 {
		delete(b.inflight, key)
	}
}

// Cancel abandons the in-flight inspections addressed by channel and token. It reports
// whether a request matched; cancels for unknown or finished requests are ignored.
func (b *Bridge) Cancel(channel, token string) bool {
	b.mu.Lock()
	reqs := b.inflight[requestKey{channel: channel, token: token}]
	cancels := make([]context.CancelFunc, 0, len(reqs))
	for req := range reqs {
		cancels = append(cancels, req.cancel)
	}
	b.mu.Unlock()
	if len(cancels) == 0 {
		b.logger.Debug("Ignoring cancel for unknown request.", zap.String("channel", channel), zap.String("token", token))
		return false
	}
	for _, cancel := range cancels {
		cancel()
	}
	return true
}

// Inspect runs one interactive pick. It returns (nil, nil) when the host window is
// unavailable or the request is cancelled, inspector.ErrNoTarget when no sub-target
// matches, and a *debugsession.SessionError when the session cannot be used.
// Requests against the same host window run one at a time.
func (b *Bridge) Inspect(ctx context.Context, req schemas.InspectRequest) (*schemas.ElementData, error) {
	if err := req.Locator.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger.With(zap.Stringer("locator", req.Locator))

	w, ok := b.windows.ResolveWindow(req.WindowID, req.FallbackWindowID)
	if !ok {
		logger.Info("No host window for inspection.", zap.String("window_id", req.WindowID), zap.String("fallback_window_id", req.FallbackWindowID))
		observability.RecordInspection(observability.OutcomeNoWindow)
		return nil, nil
	}

	if req.Token == "" {
		req.Token = uuid.NewString()
	}
	ctx, cancel := protocol.CombineContext(ctx, b.baseCtx)
	defer cancel()
	key := requestKey{channel: req.Channel, token: req.Token}
	defer b.untrack(key, b.track(key, cancel))

	sem := b.windowLock(w.ID)
	if err := sem.Acquire(ctx, 1); err != nil {
		observability.RecordInspection(observability.OutcomeCancelled)
		return nil, nil
	}
	defer sem.Release(1)

	offset, zoom := b.placement(req, w)
	ch := b.windowChannel(w)

	var data *schemas.ElementData
	err := b.sessions.Run(ctx, ch, b.resolveFunc(req.Locator), func(ctx context.Context, s *debugsession.Session) error {
		d, err := b.inspector.Pick(ctx, s)
		data = d
		return err
	})

	switch {
	case ctx.Err() != nil:
		logger.Info("Inspection cancelled.", zap.String("token", req.Token))
		observability.RecordInspection(observability.OutcomeCancelled)
		return nil, nil
	case errors.Is(err, inspector.ErrNoTarget):
		logger.Info("No target found for inspection.", zap.Error(err))
		observability.RecordInspection(observability.OutcomeNoTarget)
		return nil, inspector.ErrNoTarget
	case err != nil:
		logger.Warn("Inspection failed.", zap.Error(err))
		observability.RecordInspection(observability.OutcomeError)
		return nil, err
	case data == nil:
		observability.RecordInspection(observability.OutcomeCancelled)
		return nil, nil
	}

	data.Bounds = geometry.ToAbsoluteScaled(data.Dimensions, offset, req.Viewport, zoom)
	observability.RecordInspection(observability.OutcomeSuccess)
	logger.Debug("Inspection complete.", zap.Any("bounds", data.Bounds))
	return data, nil
}

// placement returns the offset of the target inside its window and the zoom to apply.
// Hosted views carry both in the registry; declared webviews sit at the viewport origin
// and use the window zoom.
func (b *Bridge) placement(req schemas.InspectRequest, w *host.Window) (schemas.Point, float64) {
	if req.Locator.Kind == schemas.KindHostedView {
		if v, ok := b.views.ResolveView(req.Locator.ID); ok {
			return v.Offset, v.Zoom
		}
	}
	return schemas.Point{X: req.Viewport.X, Y: req.Viewport.Y}, w.Zoom
}

func (b *Bridge) resolveFunc(locator schemas.TargetLocator) debugsession.ResolveFunc {
	return func(ctx context.Context, ch protocol.Channel) (target.ID, error) {
		id, err := b.resolver.WaitFor(ctx, ch, locator)
		if errors.Is(err, resolver.ErrNotFound) {
			return "", fmt.Errorf("%w: %w", inspector.ErrNoTarget, err)
		}
		return id, err
	}
}

// StartConsoleCapture starts capturing the console of the target behind req.Locator on
// a channel dedicated to the capture, and returns the token that cancels it.
func (b *Bridge) StartConsoleCapture(ctx context.Context, req schemas.ConsoleCaptureRequest) (string, error) {
	if err := req.Locator.Validate(); err != nil {
		return "", err
	}
	w, ok := b.windows.ResolveWindow(req.WindowID, req.FallbackWindowID)
	if !ok {
		return "", ErrNoWindow
	}
	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}

	ch := b.newChannel(w)
	if err := b.sessions.EnsureAttached(ctx, ch); err != nil {
		return "", err
	}
	targetID, err := b.resolver.WaitFor(ctx, ch, req.Locator)
	if err != nil {
		cleanupCtx, cancel := protocol.CleanupContext(ctx, b.cfg.Protocol().CleanupTimeout)
		defer cancel()
		b.sessions.DetachAll(cleanupCtx, ch, "")
		if errors.Is(err, resolver.ErrNotFound) {
			return "", inspector.ErrNoTarget
		}
		return "", err
	}

	src, err := consolelog.OpenCDPSource(ctx, ch, b.sessions, targetID, b.cfg.Protocol().CleanupTimeout, b.logger)
	if err != nil {
		return "", err
	}
	if err := b.recorder.StartSession(b.baseCtx, req.Locator, src, token); err != nil {
		src.Close()
		return "", err
	}
	return token, nil
}

// CancelConsoleCapture stops the capture for locator when token matches.
func (b *Bridge) CancelConsoleCapture(locator schemas.TargetLocator, token string) bool {
	return b.recorder.CancelSession(locator, token)
}

// Logs returns the captured console lines for a locator key.
func (b *Bridge) Logs(key string) (string, error) {
	return b.registry.GetLogs(key)
}

// Targets lists the targets visible on a host window.
func (b *Bridge) Targets(ctx context.Context, windowID string) ([]*target.Info, error) {
	w, ok := b.windows.ResolveWindow(windowID, "")
	if !ok {
		return nil, ErrNoWindow
	}
	sem := b.windowLock(w.ID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	ch := b.windowChannel(w)
	if err := b.sessions.EnsureAttached(ctx, ch); err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx, cancel := protocol.CleanupContext(ctx, b.cfg.Protocol().CleanupTimeout)
		defer cancel()
		b.sessions.DetachAll(cleanupCtx, ch, "")
	}()
	return resolver.Targets(ctx, ch)
}

// Close cancels in-flight inspections and stops console captures.
func (b *Bridge) Close() {
	b.stop()
	b.recorder.Close()
}
