// Package protocol carries DevTools protocol commands and events between the bridge
// and a host window. Commands are scoped to a flattened target session id.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/target"
	"github.com/go-json-experiment/json/jsontext"
)

// Event names the bridge subscribes to.
const (
	EventInspectNodeRequested = "Overlay.inspectNodeRequested"
	EventDetachedFromTarget   = "Target.detachedFromTarget"
	EventTargetDestroyed      = "Target.targetDestroyed"
	EventInspectorDetached    = "Inspector.detached"
	EventConsoleAPICalled     = "Runtime.consoleAPICalled"
	EventLogEntryAdded        = "Log.entryAdded"
)

var (
	// ErrNotAttached is returned when a command is sent on a detached channel.
	ErrNotAttached = errors.New("protocol channel is not attached")
	// ErrDetached is returned to commands still in flight when the channel detaches.
	ErrDetached = errors.New("protocol channel detached while a command was in flight")
)

// Event is a protocol event delivered to subscribers.
type Event struct {
	Method    string
	SessionID target.SessionID
	Params    jsontext.Value
}

// EventHandler receives events. Handlers run on the channel's read loop and must not block.
type EventHandler func(Event)

// Channel is a bidirectional command and event transport for one host window.
type Channel interface {
	// Attach connects the debugger to the host window. It is not idempotent on its own;
	// callers check IsAttached first.
	Attach(ctx context.Context) error
	// Detach disconnects the debugger and fails any in-flight command.
	Detach() error
	IsAttached() bool
	// SendCommand issues method with params, scoped to sessionID when it is non-empty,
	// and returns the raw result.
	SendCommand(ctx context.Context, method string, params any, sessionID target.SessionID) (jsontext.Value, error)
	// On subscribes handler to events named method. The returned function unsubscribes
	// and is safe to call more than once.
	On(method string, handler EventHandler) (unsubscribe func())
}

// CommandError is a protocol level error response.
type CommandError struct {
	Method  string
	Code    int64
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Method, e.Code, e.Message)
}
