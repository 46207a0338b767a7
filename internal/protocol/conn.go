// internal/protocol/conn.go
package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json/jsontext"
	"go.uber.org/zap"
)

// DialFunc opens the websocket transport for a debugger URL.
type DialFunc func(ctx context.Context, wsURL string) (chromedp.Transport, error)

func defaultDial(ctx context.Context, wsURL string) (chromedp.Transport, error) {
	return chromedp.DialContext(ctx, wsURL)
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithDialer replaces the websocket dialer. Tests use it to inject an in-memory transport.
func WithDialer(dial DialFunc) ConnOption {
	return func(c *Conn) { c.dial = dial }
}

// WithCommandTimeout bounds every command round trip.
func WithCommandTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.commandTimeout = d }
}

// WithDialTimeout bounds endpoint discovery and the websocket handshake.
func WithDialTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.dialTimeout = d }
}

// WithHTTPClient sets the client used to resolve http DevTools endpoints.
func WithHTTPClient(client *http.Client) ConnOption {
	return func(c *Conn) { c.httpClient = client }
}

// Conn is a Channel backed by chromedp's websocket transport. One Conn maps to one
// host window's debugger; sub-targets are reached through flattened session ids.
type Conn struct {
	endpoint       string
	logger         *zap.Logger
	dial           DialFunc
	httpClient     *http.Client
	commandTimeout time.Duration
	dialTimeout    time.Duration

	mu       sync.Mutex
	tr       chromedp.Transport
	readDone chan struct{}
	nextID   int64
	pending  map[int64]*pendingCommand

	handlersMu  sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	nextHandler uint64

	writeMu sync.Mutex
}

var _ Channel = (*Conn)(nil)

// pendingCommand is a command awaiting its reply on the transport it was written to.
type pendingCommand struct {
	tr   chromedp.Transport
	resp chan *cdproto.Message
}

// NewConn creates a detached channel for endpoint. Nothing is dialed until Attach.
func NewConn(endpoint string, logger *zap.Logger, opts ...ConnOption) *Conn {
	c := &Conn{
		endpoint:    endpoint,
		logger:      logger.Named("protocol").With(zap.String("endpoint", endpoint)),
		dial:        defaultDial,
		httpClient:  http.DefaultClient,
		dialTimeout: 10 * time.Second,
		pending:     make(map[int64]*pendingCommand),
		handlers:    make(map[string]map[uint64]EventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the DevTools endpoint this channel dials.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Attach dials the endpoint and starts the read loop.
func (c *Conn) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	wsURL, err := ResolveWebSocketURL(dialCtx, c.httpClient, c.endpoint)
	if err != nil {
		return fmt.Errorf("could not resolve debugger url: %w", err)
	}
	tr, err := c.dial(dialCtx, wsURL)
	if err != nil {
		return fmt.Errorf("could not dial debugger at %s: %w", wsURL, err)
	}

	c.tr = tr
	c.readDone = make(chan struct{})
	go c.readLoop(tr, c.readDone)

	c.logger.Debug("Debugger attached.", zap.String("ws_url", wsURL))
	return nil
}

// Detach closes the transport and waits for the read loop to exit.
func (c *Conn) Detach() error {
	c.mu.Lock()
	tr, done := c.tr, c.readDone
	c.tr, c.readDone = nil, nil
	c.mu.Unlock()

	if tr == nil {
		return nil
	}
	err := tr.Close()
	<-done
	c.logger.Debug("Debugger detached.")
	return err
}

// IsAttached reports whether the transport is open.
func (c *Conn) IsAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr != nil
}

// SendCommand implements Channel.
func (c *Conn) SendCommand(ctx context.Context, method string, params any, sessionID target.SessionID) (jsontext.Value, error) {
	raw, err := EncodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	if c.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
	}

	c.mu.Lock()
	tr := c.tr
	if tr == nil {
		c.mu.Unlock()
		return nil, ErrNotAttached
	}
	c.nextID++
	id := c.nextID
	respCh := make(chan *cdproto.Message, 1)
	c.pending[id] = &pendingCommand{tr: tr, resp: respCh}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := &cdproto.Message{
		ID:        id,
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
		Params:    raw,
	}

	c.writeMu.Lock()
	err = tr.Write(ctx, msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("could not write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrDetached
		}
		if resp.Error != nil {
			return nil, &CommandError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		var result []byte = resp.Result
		return jsontext.Value(result), nil
	}
}

// On implements Channel.
func (c *Conn) On(method string, handler EventHandler) func() {
	c.handlersMu.Lock()
	c.nextHandler++
	id := c.nextHandler
	if c.handlers[method] == nil {
		c.handlers[method] = make(map[uint64]EventHandler)
	}
	c.handlers[method][id] = handler
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			delete(c.handlers[method], id)
			if len(c.handlers[method]) == 0 {
				delete(c.handlers, method)
			}
			c.handlersMu.Unlock()
		})
	}
}

func (c *Conn) readLoop(tr chromedp.Transport, done chan struct{}) {
	defer close(done)
	for {
		msg := new(cdproto.Message)
		if err := tr.Read(context.Background(), msg); err != nil {
			c.logger.Debug("Read loop stopped.", zap.Error(err))
			c.dropTransport(tr)
			c.failPending(tr)
			return
		}

		switch {
		case msg.ID != 0:
			c.mu.Lock()
			p, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok && p.tr == tr {
				p.resp <- msg
			}
		case msg.Method != "":
			var params []byte = msg.Params
			c.dispatch(Event{
				Method:    string(msg.Method),
				SessionID: msg.SessionID,
				Params:    jsontext.Value(params),
			})
		}
	}
}

func (c *Conn) dispatch(ev Event) {
	c.handlersMu.RLock()
	subscribers := make([]EventHandler, 0, len(c.handlers[ev.Method]))
	for _, h := range c.handlers[ev.Method] {
		subscribers = append(subscribers, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range subscribers {
		h(ev)
	}
}

// dropTransport marks the channel detached when the remote end closed tr.
func (c *Conn) dropTransport(tr chromedp.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != tr {
		return
	}
	c.tr, c.readDone = nil, nil
	if err := tr.Close(); err != nil {
		c.logger.Debug("Transport close after remote hangup failed.", zap.Error(err))
	}
	c.logger.Warn("Debugger connection lost.")
}

// failPending wakes the commands written to tr with ErrDetached. Commands sent on a
// transport attached since then are left alone.
func (c *Conn) failPending(tr chromedp.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		if p.tr != tr {
			continue
		}
		close(p.resp)
		delete(c.pending, id)
	}
}
