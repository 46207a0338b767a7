// Package debugsession owns the debugger attach lifecycle for one host window and the
// flattened sub-target session that scopes an inspection.
package debugsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/internal/observability"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

// Steps reported by SessionError.
const (
	StepAttach         = "attach"
	StepAttachToTarget = "attach_to_target"
)

// SessionError reports a failure that prevents a protocol session from being used.
type SessionError struct {
	Step string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s failed: %v", e.Step, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Session is a flattened sub-target session. It is only valid inside Manager.Run.
type Session struct {
	TargetID  target.ID
	SessionID target.SessionID
	Channel   protocol.Channel
}

// Call sends a command scoped to the session.
func (s *Session) Call(ctx context.Context, method string, params, res any) error {
	return protocol.Call(ctx, s.Channel, s.SessionID, method, params, res)
}

// ResolveFunc locates the sub-target to attach to.
type ResolveFunc func(ctx context.Context, ch protocol.Channel) (target.ID, error)

// Manager attaches and detaches debuggers. It only detaches channels it attached itself.
type Manager struct {
	logger         *zap.Logger
	cleanupTimeout time.Duration

	mu    sync.Mutex
	owned map[protocol.Channel]struct{}
}

func NewManager(logger *zap.Logger, cleanupTimeout time.Duration) *Manager {
	return &Manager{
		logger:         logger.Named("debugsession"),
		cleanupTimeout: cleanupTimeout,
		owned:          make(map[protocol.Channel]struct{}),
	}
}

// EnsureAttached attaches ch unless it already is.
func (m *Manager) EnsureAttached(ctx context.Context, ch protocol.Channel) error {
	if ch.IsAttached() {
		return nil
	}
	if err := ch.Attach(ctx); err != nil {
		// A failed attach can leave a half-open transport behind.
		if derr := ch.Detach(); derr != nil {
			m.logger.Debug("Detach after failed attach also failed.", zap.Error(derr))
		}
		return &SessionError{Step: StepAttach, Err: err}
	}
	observability.RecordAttach()

	m.mu.Lock()
	m.owned[ch] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("Debugger attached.")
	return nil
}

// AttachToSubTarget opens a flattened session on targetID.
func (m *Manager) AttachToSubTarget(ctx context.Context, ch protocol.Channel, targetID target.ID) (target.SessionID, error) {
	var res target.AttachToTargetReturns
	err := protocol.Call(ctx, ch, "", target.CommandAttachToTarget, target.AttachToTarget(targetID).WithFlatten(true), &res)
	if err != nil {
		return "", &SessionError{Step: StepAttachToTarget, Err: err}
	}
	if res.SessionID == "" {
		return "", &SessionError{Step: StepAttachToTarget, Err: errors.New("no session id returned")}
	}
	m.logger.Debug("Attached to sub-target.",
		zap.String("target_id", string(targetID)),
		zap.String("session_id", string(res.SessionID)))
	return res.SessionID, nil
}

// DetachAll closes the sub-target session, if any, then detaches ch when this
// manager attached it. Failures are logged.
func (m *Manager) DetachAll(ctx context.Context, ch protocol.Channel, sessionID target.SessionID) {
	if sessionID != "" && ch.IsAttached() {
		err := protocol.Call(ctx, ch, "", target.CommandDetachFromTarget, target.DetachFromTarget().WithSessionID(sessionID), nil)
		if err != nil {
			m.logger.Debug("Could not detach from sub-target.", zap.String("session_id", string(sessionID)), zap.Error(err))
		}
	}

	m.mu.Lock()
	_, owned := m.owned[ch]
	delete(m.owned, ch)
	m.mu.Unlock()
	if !owned {
		return
	}

	if err := ch.Detach(); err != nil {
		m.logger.Warn("Failed to detach debugger.", zap.Error(err))
	}
	observability.RecordDetach()
	m.logger.Debug("Debugger detached.")
}

// Run attaches ch, resolves and attaches the sub-target, and runs fn with the session.
// Everything acquired is released exactly once when Run returns, whatever the outcome,
// on a context that survives cancellation of ctx.
func (m *Manager) Run(ctx context.Context, ch protocol.Channel, resolve ResolveFunc, fn func(ctx context.Context, s *Session) error) error {
	if err := m.EnsureAttached(ctx, ch); err != nil {
		return err
	}

	var sessionID target.SessionID
	release := sync.OnceFunc(func() {
		cleanupCtx, cancel := protocol.CleanupContext(ctx, m.cleanupTimeout)
		defer cancel()
		m.DetachAll(cleanupCtx, ch, sessionID)
	})
	defer release()

	targetID, err := resolve(ctx, ch)
	if err != nil {
		return err
	}

	sessionID, err = m.AttachToSubTarget(ctx, ch, targetID)
	if err != nil {
		return err
	}

	return fn(ctx, &Session{TargetID: targetID, SessionID: sessionID, Channel: ch})
}
