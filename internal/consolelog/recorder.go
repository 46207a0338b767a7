package consolelog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
)

// LogSource streams console messages from one target.
type LogSource interface {
	// Messages delivers console messages. It is never closed; the capture ends through
	// Destroyed or cancellation instead.
	Messages() <-chan schemas.LogMessage
	// Destroyed is closed when the target goes away.
	Destroyed() <-chan struct{}
	Close() error
}

type captureSession struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Recorder pumps log sources into a Registry. One capture runs per locator key; a new
// session for a key supersedes the running one.
type Recorder struct {
	registry *Registry
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*captureSession
}

func NewRecorder(registry *Registry, logger *zap.Logger) *Recorder {
	return &Recorder{
		registry: registry,
		logger:   logger.Named("consolelog"),
		sessions: make(map[string]*captureSession),
	}
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *Registry {
	return r.registry
}

// StartSession begins capturing src into locator's buffer. The capture stops when ctx
// is cancelled, the source reports destruction, or CancelSession is called with token.
// The source is closed when the capture stops.
func (r *Recorder) StartSession(ctx context.Context, locator schemas.TargetLocator, src LogSource, token string) error {
	if err := locator.Validate(); err != nil {
		return err
	}
	key := locator.Key()
	r.registry.Ensure(key)

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &captureSession{token: token, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	previous := r.sessions[key]
	r.sessions[key] = sess
	r.mu.Unlock()

	if previous != nil {
		previous.cancel()
		<-previous.done
		r.logger.Debug("Superseded console capture.", zap.String("key", key), zap.String("token", previous.token))
	}

	go r.pump(sessCtx, key, sess, src)
	r.logger.Debug("Console capture started.", zap.String("key", key), zap.String("token", token))
	return nil
}

func (r *Recorder) pump(ctx context.Context, key string, sess *captureSession, src LogSource) {
	release := observability.TrackConsoleSession()
	defer func() {
		if err := src.Close(); err != nil {
			r.logger.Debug("Closing log source failed.", zap.String("key", key), zap.Error(err))
		}
		r.mu.Lock()
		if r.sessions[key] == sess {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		sess.cancel()
		release()
		close(sess.done)
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Console capture cancelled.", zap.String("key", key))
			return
		case <-src.Destroyed():
			r.logger.Debug("Console capture target destroyed.", zap.String("key", key))
			return
		case msg := <-src.Messages():
			r.registry.Append(key, schemas.FormatLogLine(msg))
			observability.RecordConsoleLine()
		}
	}
}

// CancelSession stops locator's capture if it was started with token. It reports
// whether a capture was stopped; stale tokens are ignored.
func (r *Recorder) CancelSession(locator schemas.TargetLocator, token string) bool {
	key := locator.Key()
	r.mu.Lock()
	sess, ok := r.sessions[key]
	if !ok || sess.token != token {
		r.mu.Unlock()
		r.logger.Debug("Ignoring console cancel for stale token.", zap.String("key", key), zap.String("token", token))
		return false
	}
	delete(r.sessions, key)
	r.mu.Unlock()

	sess.cancel()
	<-sess.done
	return true
}

// Active reports whether a capture is running for locator.
func (r *Recorder) Active(locator schemas.TargetLocator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[locator.Key()]
	return ok
}

// Close stops every running capture and waits for them to finish.
func (r *Recorder) Close() {
	r.mu.Lock()
	sessions := make([]*captureSession, 0, len(r.sessions))
	for key, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
		<-sess.done
	}
}
