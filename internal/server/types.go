// File: internal/server/types.go
package server

import (
	"context"

	"github.com/chromedp/cdproto/target"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service is the bridge surface exposed over HTTP and websocket.
type Service interface {
	Inspect(ctx context.Context, req schemas.InspectRequest) (*schemas.ElementData, error)
	Cancel(channel, token string) bool
	StartConsoleCapture(ctx context.Context, req schemas.ConsoleCaptureRequest) (string, error)
	CancelConsoleCapture(locator schemas.TargetLocator, token string) bool
	Logs(key string) (string, error)
	Targets(ctx context.Context, windowID string) ([]*target.Info, error)
}

// Response is the envelope of every JSON HTTP response.
type Response struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// CaptureStarted is returned by POST /v1/logs/start.
type CaptureStarted struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

// CancelResult reports whether a cancel matched a live request.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// LogsResult carries the captured console text of one key.
type LogsResult struct {
	Key  string `json:"key"`
	Logs string `json:"logs"`
}

// MessageType names a websocket message.
type MessageType string

const (
	// Client to server.
	MsgInspect MessageType = "inspect"
	MsgCancel  MessageType = "cancel"

	// Server to client.
	MsgResult MessageType = "result"
	MsgError  MessageType = "error"
)

// WSMessage is the frame exchanged on /v1/ws. RequestID carries the inspection token
// so results and cancels correlate with the request that started them.
type WSMessage struct {
	Type      MessageType         `json:"type"`
	Data      jsoniter.RawMessage `json:"data,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// WSError is the payload of an error frame.
type WSError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}
