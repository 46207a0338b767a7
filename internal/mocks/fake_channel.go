// File: internal/mocks/fake_channel.go
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

// Call is one command observed by a FakeChannel.
type Call struct {
	Method    string
	SessionID target.SessionID
	Params    []byte
}

// CommandHandler produces the result for a scripted command. The result may be a
// string or []byte of raw JSON, or any value marshalled with encoding/json.
type CommandHandler func(ctx context.Context, call Call) (any, error)

// FakeChannel is a scripted protocol.Channel. Commands without a handler succeed with
// an empty result. Events are delivered synchronously by Emit.
type FakeChannel struct {
	mu          sync.Mutex
	attached    bool
	attachCalls int
	detachCalls int
	attachErr   error
	handlers    map[string]CommandHandler
	calls       []Call
	subs        map[string]map[int]protocol.EventHandler
	nextSub     int
}

var _ protocol.Channel = (*FakeChannel)(nil)

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		handlers: make(map[string]CommandHandler),
		subs:     make(map[string]map[int]protocol.EventHandler),
	}
}

// Handle scripts the response for method.
func (f *FakeChannel) Handle(method string, h CommandHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// Respond scripts a fixed result for method.
func (f *FakeChannel) Respond(method string, result any) {
	f.Handle(method, func(context.Context, Call) (any, error) { return result, nil })
}

// Fail scripts a fixed error for method.
func (f *FakeChannel) Fail(method string, err error) {
	f.Handle(method, func(context.Context, Call) (any, error) { return nil, err })
}

// SetAttachError makes the next Attach calls fail with err.
func (f *FakeChannel) SetAttachError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachErr = err
}

// SetAttached simulates a debugger attached by someone else.
func (f *FakeChannel) SetAttached(attached bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = attached
}

func (f *FakeChannel) Attach(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = true
	return nil
}

func (f *FakeChannel) Detach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls++
	f.attached = false
	return nil
}

func (f *FakeChannel) IsAttached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *FakeChannel) SendCommand(ctx context.Context, method string, params any, sessionID target.SessionID) (jsontext.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := protocol.EncodeParams(params)
	if err != nil {
		return nil, err
	}
	call := Call{Method: method, SessionID: sessionID, Params: raw}

	f.mu.Lock()
	if !f.attached {
		f.mu.Unlock()
		return nil, protocol.ErrNotAttached
	}
	f.calls = append(f.calls, call)
	h := f.handlers[method]
	f.mu.Unlock()

	if h == nil {
		return jsontext.Value(`{}`), nil
	}
	result, err := h(ctx, call)
	if err != nil {
		return nil, err
	}
	return toRaw(result)
}

func (f *FakeChannel) On(method string, handler protocol.EventHandler) func() {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	if f.subs[method] == nil {
		f.subs[method] = make(map[int]protocol.EventHandler)
	}
	f.subs[method][id] = handler
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[method], id)
	}
}

// Emit delivers an event to the current subscribers of method.
func (f *FakeChannel) Emit(method string, sessionID target.SessionID, params any) {
	raw, err := toRaw(params)
	if err != nil {
		panic(fmt.Sprintf("fake channel: could not encode %s event: %v", method, err))
	}

	f.mu.Lock()
	handlers := make([]protocol.EventHandler, 0, len(f.subs[method]))
	for _, h := range f.subs[method] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(protocol.Event{Method: method, SessionID: sessionID, Params: raw})
	}
}

// Subscribers counts the live subscriptions for method.
func (f *FakeChannel) Subscribers(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[method])
}

func (f *FakeChannel) AttachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls
}

func (f *FakeChannel) DetachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detachCalls
}

// Calls returns every command observed so far.
func (f *FakeChannel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the commands observed for method.
func (f *FakeChannel) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the observed command names in order.
func (f *FakeChannel) Methods() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

func toRaw(v any) (jsontext.Value, error) {
	switch t := v.(type) {
	case nil:
		return jsontext.Value(`{}`), nil
	case string:
		return jsontext.Value(t), nil
	case []byte:
		return jsontext.Value(t), nil
	case jsontext.Value:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsontext.Value(b), nil
}
