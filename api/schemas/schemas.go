package schemas

import (
	"errors"
	"fmt"
)

// -- Locator Schemas --

// LocatorKind tags which resolution strategy applies to a TargetLocator.
type LocatorKind string

const (
	// KindHostedView names a view hosted by the host window. It resolves through the
	// view registry to an execution context identity.
	KindHostedView LocatorKind = "hosted_view"
	// KindDeclaredWebview names a webview declared in host markup. It resolves only
	// through URL heuristics on the target list.
	KindDeclaredWebview LocatorKind = "declared_webview"
)

// String implements fmt.Stringer.
func (k LocatorKind) String() string { return string(k) }

// ErrInvalidLocator is returned by TargetLocator.Validate.
var ErrInvalidLocator = errors.New("invalid target locator")

// TargetLocator identifies which embedded surface to inspect.
// It is immutable and supplied by the caller per request.
type TargetLocator struct {
	Kind LocatorKind `json:"kind"`
	ID   string      `json:"id"`
}

// HostedView builds a locator for a hosted view.
func HostedView(id string) TargetLocator {
	return TargetLocator{Kind: KindHostedView, ID: id}
}

// DeclaredWebview builds a locator for a webview declared in markup.
func DeclaredWebview(id string) TargetLocator {
	return TargetLocator{Kind: KindDeclaredWebview, ID: id}
}

// Key returns the key used for per-locator state such as console log buffers.
func (l TargetLocator) Key() string {
	return l.ID
}

// Validate checks that the locator carries a known kind and a non-empty id.
func (l TargetLocator) Validate() error {
	switch l.Kind {
	case KindHostedView, KindDeclaredWebview:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidLocator, l.Kind)
	}
	if l.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidLocator)
	}
	return nil
}

// String implements fmt.Stringer.
func (l TargetLocator) String() string {
	return fmt.Sprintf("%s(%s)", l.Kind, l.ID)
}

// -- Request Schemas --

// InspectRequest is the input to one interactive element pick.
type InspectRequest struct {
	Locator TargetLocator `json:"locator"`
	// WindowID names the host window. FallbackWindowID is used when WindowID is empty.
	WindowID         string `json:"window_id,omitempty"`
	FallbackWindowID string `json:"fallback_window_id,omitempty"`
	// Viewport is the visible rectangle of the embedded surface, relative to the host.
	Viewport Rect `json:"viewport"`
	// Channel and Token address a later out-of-band cancel message to this request.
	Channel string `json:"channel,omitempty"`
	Token   string `json:"token,omitempty"`
}

// CancelRequest asks for an in-flight inspection to be abandoned.
type CancelRequest struct {
	Channel string `json:"channel,omitempty"`
	Token   string `json:"token"`
}

// ConsoleCancelRequest stops a console capture started with Token.
type ConsoleCancelRequest struct {
	Locator TargetLocator `json:"locator"`
	Token   string        `json:"token"`
}

// ConsoleCaptureRequest starts passive console capture for a locator.
type ConsoleCaptureRequest struct {
	Locator          TargetLocator `json:"locator"`
	WindowID         string        `json:"window_id,omitempty"`
	FallbackWindowID string        `json:"fallback_window_id,omitempty"`
	Token            string        `json:"token,omitempty"`
}
