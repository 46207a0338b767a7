package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport is an in-memory chromedp.Transport. respond builds the reply for
// each written command; a nil reply leaves the command pending.
type fakeTransport struct {
	in        chan *cdproto.Message
	closed    chan struct{}
	closeOnce sync.Once
	respond   func(*cdproto.Message) *cdproto.Message

	mu      sync.Mutex
	written []*cdproto.Message
}

func newFakeTransport(respond func(*cdproto.Message) *cdproto.Message) *fakeTransport {
	return &fakeTransport{
		in:      make(chan *cdproto.Message, 16),
		closed:  make(chan struct{}),
		respond: respond,
	}
}

func (f *fakeTransport) Read(_ context.Context, msg *cdproto.Message) error {
	select {
	case m := <-f.in:
		*msg = *m
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeTransport) Write(_ context.Context, msg *cdproto.Message) error {
	f.mu.Lock()
	f.written = append(f.written, msg)
	f.mu.Unlock()
	if f.respond != nil {
		if reply := f.respond(msg); reply != nil {
			f.in <- reply
		}
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) emit(msg *cdproto.Message) {
	f.in <- msg
}

func (f *fakeTransport) writes() []*cdproto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cdproto.Message(nil), f.written...)
}

func newTestConn(t *testing.T, tr *fakeTransport, opts ...ConnOption) *Conn {
	t.Helper()
	dial := func(_ context.Context, wsURL string) (chromedp.Transport, error) {
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", wsURL)
		return tr, nil
	}
	opts = append([]ConnOption{WithDialer(dial)}, opts...)
	return NewConn("ws://127.0.0.1:9222/devtools/browser/x", zaptest.NewLogger(t), opts...)
}

func TestConn_AttachDetach(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestConn(t, tr)

	assert.False(t, c.IsAttached())
	require.NoError(t, c.Attach(context.Background()))
	assert.True(t, c.IsAttached())

	// A second attach on a live transport is a no-op.
	require.NoError(t, c.Attach(context.Background()))

	require.NoError(t, c.Detach())
	assert.False(t, c.IsAttached())
	require.NoError(t, c.Detach(), "detaching twice must be harmless")
}

func TestConn_SendCommand(t *testing.T) {
	tr := newFakeTransport(func(msg *cdproto.Message) *cdproto.Message {
		switch msg.Method {
		case "DOM.getDocument":
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"root":{"nodeId":1}}`)}
		case "DOM.getBoxModel":
			return &cdproto.Message{ID: msg.ID, Error: &cdproto.Error{Code: -32000, Message: "Could not compute box model."}}
		}
		return nil
	})
	c := newTestConn(t, tr)
	require.NoError(t, c.Attach(context.Background()))
	defer c.Detach()

	t.Run("Result", func(t *testing.T) {
		raw, err := c.SendCommand(context.Background(), "DOM.getDocument", map[string]int{"depth": 1}, "SESSION")
		require.NoError(t, err)
		assert.JSONEq(t, `{"root":{"nodeId":1}}`, string(raw))

		writes := tr.writes()
		require.NotEmpty(t, writes)
		last := writes[len(writes)-1]
		assert.Equal(t, "SESSION", string(last.SessionID))
		var params []byte = last.Params
		assert.JSONEq(t, `{"depth":1}`, string(params))
	})

	t.Run("ProtocolError", func(t *testing.T) {
		_, err := c.SendCommand(context.Background(), "DOM.getBoxModel", nil, "SESSION")
		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, int64(-32000), cmdErr.Code)
		assert.Contains(t, err.Error(), "DOM.getBoxModel")
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := c.SendCommand(ctx, "Overlay.neverAnswered", nil, "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestConn_SendCommandNotAttached(t *testing.T) {
	c := newTestConn(t, newFakeTransport(nil))
	_, err := c.SendCommand(context.Background(), "DOM.enable", nil, "")
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestConn_CommandTimeout(t *testing.T) {
	c := newTestConn(t, newFakeTransport(nil), WithCommandTimeout(10*time.Millisecond))
	require.NoError(t, c.Attach(context.Background()))
	defer c.Detach()

	_, err := c.SendCommand(context.Background(), "Runtime.evaluate", nil, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_DetachFailsPending(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestConn(t, tr)
	require.NoError(t, c.Attach(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendCommand(context.Background(), "Overlay.setInspectMode", nil, "S")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(tr.writes()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Detach())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrDetached), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pending command was not failed on detach")
	}
}

func TestConn_Events(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestConn(t, tr)
	require.NoError(t, c.Attach(context.Background()))
	defer c.Detach()

	received := make(chan Event, 4)
	unsubscribe := c.On(EventInspectNodeRequested, func(ev Event) { received <- ev })

	tr.emit(&cdproto.Message{
		Method:    cdproto.MethodType(EventInspectNodeRequested),
		SessionID: "S1",
		Params:    []byte(`{"backendNodeId":7}`),
	})

	select {
	case ev := <-received:
		assert.Equal(t, "S1", string(ev.SessionID))
		assert.JSONEq(t, `{"backendNodeId":7}`, string(ev.Params))
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}

	unsubscribe()
	unsubscribe()

	tr.emit(&cdproto.Message{Method: cdproto.MethodType(EventInspectNodeRequested), Params: []byte(`{}`)})
	// Round trip an unrelated event to be sure the loop processed the previous one.
	done := make(chan struct{})
	stop := c.On(EventTargetDestroyed, func(Event) { close(done) })
	defer stop()
	tr.emit(&cdproto.Message{Method: cdproto.MethodType(EventTargetDestroyed), Params: []byte(`{}`)})
	<-done

	assert.Empty(t, received)
}

func TestConn_RemoteHangup(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestConn(t, tr)
	require.NoError(t, c.Attach(context.Background()))

	// Closing the transport from underneath the conn looks like the browser going away.
	require.NoError(t, tr.Close())
	require.Eventually(t, func() bool { return !c.IsAttached() }, time.Second, 5*time.Millisecond)

	_, err := c.SendCommand(context.Background(), "Runtime.evaluate", nil, "")
	assert.ErrorIs(t, err, ErrNotAttached)
	assert.NoError(t, c.Detach())
}

func TestConn_StaleHangupLeavesNewTransport(t *testing.T) {
	first := newFakeTransport(nil)
	second := newFakeTransport(nil)
	transports := []*fakeTransport{first, second}
	var dials int
	dial := func(context.Context, string) (chromedp.Transport, error) {
		tr := transports[dials]
		dials++
		return tr, nil
	}
	c := NewConn("ws://127.0.0.1:9222/devtools/browser/x", zaptest.NewLogger(t), WithDialer(dial))

	require.NoError(t, c.Attach(context.Background()))
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return !c.IsAttached() }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Attach(context.Background()))
	defer c.Detach()

	type result struct {
		raw []byte
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		raw, err := c.SendCommand(context.Background(), "Runtime.evaluate", nil, "")
		resCh <- result{raw: raw, err: err}
	}()
	require.Eventually(t, func() bool { return len(second.writes()) == 1 }, time.Second, 5*time.Millisecond)

	// A late cleanup for the first transport must not touch commands on the second.
	c.failPending(first)

	second.emit(&cdproto.Message{ID: second.writes()[0].ID, Result: []byte(`{"result":{}}`)})
	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"result":{}}`, string(res.raw))
	case <-time.After(time.Second):
		t.Fatal("command on the new transport never completed")
	}
}
