package debugsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/inspectbridge/internal/mocks"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(zaptest.NewLogger(t), time.Second)
}

func resolveTo(id target.ID) ResolveFunc {
	return func(context.Context, protocol.Channel) (target.ID, error) { return id, nil }
}

func newScriptedChannel() *mocks.FakeChannel {
	ch := mocks.NewFakeChannel()
	ch.Respond(target.CommandAttachToTarget, `{"sessionId":"S1"}`)
	return ch
}

func TestEnsureAttached_Idempotent(t *testing.T) {
	m := newTestManager(t)
	ch := mocks.NewFakeChannel()

	require.NoError(t, m.EnsureAttached(context.Background(), ch))
	require.NoError(t, m.EnsureAttached(context.Background(), ch))
	assert.Equal(t, 1, ch.AttachCount())
}

func TestAttachToSubTarget(t *testing.T) {
	m := newTestManager(t)
	ch := newScriptedChannel()
	require.NoError(t, ch.Attach(context.Background()))

	sid, err := m.AttachToSubTarget(context.Background(), ch, "T1")
	require.NoError(t, err)
	assert.Equal(t, target.SessionID("S1"), sid)

	calls := ch.CallsTo(target.CommandAttachToTarget)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"targetId":"T1","flatten":true}`, string(calls[0].Params))

	t.Run("MissingSessionID", func(t *testing.T) {
		ch.Respond(target.CommandAttachToTarget, `{}`)
		_, err := m.AttachToSubTarget(context.Background(), ch, "T1")
		var sessErr *SessionError
		require.ErrorAs(t, err, &sessErr)
		assert.Equal(t, StepAttachToTarget, sessErr.Step)
	})
}

func TestRun_AttachDetachBalance(t *testing.T) {
	errResolve := errors.New("resolve failed")
	errWork := errors.New("work failed")

	testCases := []struct {
		name    string
		setup   func(ch *mocks.FakeChannel)
		resolve ResolveFunc
		fn      func(ctx context.Context, s *Session) error
		wantErr error
	}{
		{
			name:    "Success",
			resolve: resolveTo("T1"),
			fn:      func(context.Context, *Session) error { return nil },
		},
		{
			name: "ResolveFails",
			resolve: func(context.Context, protocol.Channel) (target.ID, error) {
				return "", errResolve
			},
			fn:      func(context.Context, *Session) error { t.Fatal("fn must not run"); return nil },
			wantErr: errResolve,
		},
		{
			name:    "SubTargetAttachFails",
			setup:   func(ch *mocks.FakeChannel) { ch.Fail(target.CommandAttachToTarget, errors.New("no such target")) },
			resolve: resolveTo("T1"),
			fn:      func(context.Context, *Session) error { t.Fatal("fn must not run"); return nil },
		},
		{
			name:    "WorkFails",
			resolve: resolveTo("T1"),
			fn:      func(context.Context, *Session) error { return errWork },
			wantErr: errWork,
		},
		{
			name:    "TopLevelAttachFails",
			setup:   func(ch *mocks.FakeChannel) { ch.SetAttachError(errors.New("refused")) },
			resolve: resolveTo("T1"),
			fn:      func(context.Context, *Session) error { t.Fatal("fn must not run"); return nil },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t)
			ch := newScriptedChannel()
			if tc.setup != nil {
				tc.setup(ch)
			}

			err := m.Run(context.Background(), ch, tc.resolve, tc.fn)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, ch.AttachCount(), ch.DetachCount(), "attach and detach must balance")
			assert.Equal(t, 1, ch.DetachCount())
			assert.False(t, ch.IsAttached())
		})
	}
}

func TestRun_SessionScoping(t *testing.T) {
	m := newTestManager(t)
	ch := newScriptedChannel()

	var seen *Session
	err := m.Run(context.Background(), ch, resolveTo("T9"), func(ctx context.Context, s *Session) error {
		seen = s
		return s.Call(ctx, "DOM.enable", nil, nil)
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, target.ID("T9"), seen.TargetID)

	enable := ch.CallsTo("DOM.enable")
	require.Len(t, enable, 1)
	assert.Equal(t, target.SessionID("S1"), enable[0].SessionID)

	detach := ch.CallsTo(target.CommandDetachFromTarget)
	require.Len(t, detach, 1)
	assert.JSONEq(t, `{"sessionId":"S1"}`, string(detach[0].Params))
}

func TestRun_CancelledContextStillCleansUp(t *testing.T) {
	m := newTestManager(t)
	ch := newScriptedChannel()

	ctx, cancel := context.WithCancel(context.Background())
	err := m.Run(ctx, ch, resolveTo("T1"), func(ctx context.Context, s *Session) error {
		cancel()
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, ch.CallsTo(target.CommandDetachFromTarget), 1, "sub-target detach runs on a detached context")
	assert.Equal(t, 1, ch.DetachCount())
}

func TestRun_Panic(t *testing.T) {
	m := newTestManager(t)
	ch := newScriptedChannel()

	assert.Panics(t, func() {
		_ = m.Run(context.Background(), ch, resolveTo("T1"), func(context.Context, *Session) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1, ch.AttachCount())
	assert.Equal(t, 1, ch.DetachCount())
}

func TestRun_PreAttachedChannelIsLeftAttached(t *testing.T) {
	m := newTestManager(t)
	ch := newScriptedChannel()
	ch.SetAttached(true)

	require.NoError(t, m.Run(context.Background(), ch, resolveTo("T1"), func(context.Context, *Session) error { return nil }))
	assert.Zero(t, ch.AttachCount())
	assert.Zero(t, ch.DetachCount())
	assert.True(t, ch.IsAttached())
	assert.Len(t, ch.CallsTo(target.CommandDetachFromTarget), 1)
}
