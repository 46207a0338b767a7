package consolelog

import (
	"context"
	"strings"
	"sync"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

// CDPSource is a LogSource reading Runtime and Log events from a sub-target. It
// expects a channel dedicated to the capture.
type CDPSource struct {
	ch        protocol.Channel
	manager   *debugsession.Manager
	targetID  target.ID
	sessionID target.SessionID
	cleanup   time.Duration
	logger    *zap.Logger

	msgs          chan schemas.LogMessage
	destroyed     chan struct{}
	destroyedOnce sync.Once
	closeOnce     sync.Once

	// Event handlers append to queue and forward drains it into msgs, so a burst of
	// console output never blocks the channel's read loop or loses lines.
	wake        chan struct{}
	quit        chan struct{}
	forwardDone chan struct{}

	mu    sync.Mutex
	stops []func()
	queue []schemas.LogMessage
}

var _ LogSource = (*CDPSource)(nil)

// OpenCDPSource attaches to targetID on ch and enables console reporting. On error
// everything acquired so far is released.
func OpenCDPSource(ctx context.Context, ch protocol.Channel, manager *debugsession.Manager, targetID target.ID, cleanupTimeout time.Duration, logger *zap.Logger) (*CDPSource, error) {
	s := &CDPSource{
		ch:        ch,
		manager:   manager,
		targetID:  targetID,
		cleanup:   cleanupTimeout,
		logger:    logger.Named("console_source").With(zap.String("target_id", string(targetID))),
		msgs:        make(chan schemas.LogMessage),
		destroyed:   make(chan struct{}),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		forwardDone: make(chan struct{}),
	}

	if err := manager.EnsureAttached(ctx, ch); err != nil {
		return nil, err
	}

	go s.forward()
	s.subscribe()

	sessionID, err := manager.AttachToSubTarget(ctx, ch, targetID)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()

	for _, method := range []string{runtime.CommandEnable, cdplog.CommandEnable} {
		if err := protocol.Call(ctx, ch, sessionID, method, nil, nil); err != nil {
			s.Close()
			return nil, &debugsession.SessionError{Step: method, Err: err}
		}
	}
	return s, nil
}

func (s *CDPSource) currentSession() target.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *CDPSource) subscribe() {
	ours := func(ev protocol.Event) bool {
		sid := s.currentSession()
		return sid != "" && ev.SessionID == sid
	}

	stops := []func(){
		s.ch.On(protocol.EventConsoleAPICalled, func(ev protocol.Event) {
			if !ours(ev) {
				return
			}
			var payload runtime.EventConsoleAPICalled
			if err := protocol.Decode(ev.Params, &payload); err != nil {
				s.logger.Debug("Ignoring undecodable console event.", zap.Error(err))
				return
			}
			s.deliver(schemas.LogMessage{Level: levelForAPIType(payload.Type), Text: formatArgs(payload.Args)})
		}),
		s.ch.On(protocol.EventLogEntryAdded, func(ev protocol.Event) {
			if !ours(ev) {
				return
			}
			var payload cdplog.EventEntryAdded
			if err := protocol.Decode(ev.Params, &payload); err != nil || payload.Entry == nil {
				return
			}
			s.deliver(schemas.LogMessage{Level: levelForLogLevel(payload.Entry.Level), Text: payload.Entry.Text})
		}),
		s.ch.On(protocol.EventDetachedFromTarget, func(ev protocol.Event) {
			var payload target.EventDetachedFromTarget
			if err := protocol.Decode(ev.Params, &payload); err == nil && payload.SessionID != "" && payload.SessionID == s.currentSession() {
				s.markDestroyed()
			}
		}),
		s.ch.On(protocol.EventTargetDestroyed, func(ev protocol.Event) {
			var payload target.EventTargetDestroyed
			if err := protocol.Decode(ev.Params, &payload); err == nil && payload.TargetID == s.targetID {
				s.markDestroyed()
			}
		}),
		s.ch.On(protocol.EventInspectorDetached, func(ev protocol.Event) {
			if ours(ev) {
				s.markDestroyed()
			}
		}),
	}

	s.mu.Lock()
	s.stops = append(s.stops, stops...)
	s.mu.Unlock()
}

func (s *CDPSource) deliver(msg schemas.LogMessage) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// forward hands queued messages to Messages in arrival order until Close.
func (s *CDPSource) forward() {
	defer close(s.forwardDone)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		msg := s.queue[0]
		s.queue[0] = schemas.LogMessage{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.msgs <- msg:
		case <-s.quit:
			return
		}
	}
}

func (s *CDPSource) markDestroyed() {
	s.destroyedOnce.Do(func() { close(s.destroyed) })
}

func (s *CDPSource) Messages() <-chan schemas.LogMessage { return s.msgs }

func (s *CDPSource) Destroyed() <-chan struct{} { return s.destroyed }

// Close unsubscribes and releases the sub-target session and the channel.
func (s *CDPSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		close(s.quit)
		<-s.forwardDone

		ctx, cancel := protocol.CleanupContext(context.Background(), s.cleanup)
		defer cancel()
		s.manager.DetachAll(ctx, s.ch, s.currentSession())
	})
	return nil
}

// levelForAPIType maps console API call types onto log levels.
func levelForAPIType(t runtime.APIType) schemas.LogLevel {
	switch t {
	case runtime.APITypeWarning:
		return schemas.LevelWarning
	case runtime.APITypeError, runtime.APITypeAssert:
		return schemas.LevelError
	}
	return schemas.LevelLog
}

func levelForLogLevel(l cdplog.Level) schemas.LogLevel {
	switch l {
	case cdplog.LevelWarning:
		return schemas.LevelWarning
	case cdplog.LevelError:
		return schemas.LevelError
	}
	return schemas.LevelLog
}

// formatArgs renders console arguments the way a console would print them.
func formatArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, formatArg(arg))
	}
	return strings.Join(parts, " ")
}

func formatArg(arg *runtime.RemoteObject) string {
	if len(arg.Value) > 0 {
		var str string
		if err := protocol.Decode([]byte(arg.Value), &str); err == nil {
			return str
		}
		return string(arg.Value)
	}
	if arg.UnserializableValue != "" {
		return string(arg.UnserializableValue)
	}
	if arg.Description != "" {
		return arg.Description
	}
	return string(arg.Type)
}
