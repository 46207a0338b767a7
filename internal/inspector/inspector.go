// Package inspector runs the interactive element pick against one protocol session.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/overlay"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/geometry"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
	"github.com/xkilldash9x/inspectbridge/internal/stylesheet"
)

var (
	// ErrNoTarget is returned when no sub-target matches the requested locator.
	ErrNoTarget = errors.New("No target found")
	// ErrTargetDestroyed is returned when the target goes away while a pick is pending.
	ErrTargetDestroyed = errors.New("target destroyed during inspection")

	errNoValue = errors.New("script returned no value")
)

// Steps reported by debugsession.SessionError.
const (
	StepEnable        = "enable"
	StepInspectMode   = "set_inspect_mode"
	StepDocument      = "get_document"
	StepPushNode      = "push_node"
	StepBoxModel      = "box_model"
	StepMatchedStyles = "matched_styles"
	StepOuterHTML     = "outer_html"
)

const ellipsis = "..."

// Inspector drives the pick workflow.
type Inspector struct {
	cfg            config.InspectorConfig
	cleanupTimeout time.Duration
	logger         *zap.Logger
}

func New(cfg config.InspectorConfig, cleanupTimeout time.Duration, logger *zap.Logger) *Inspector {
	return &Inspector{
		cfg:            cfg,
		cleanupTimeout: cleanupTimeout,
		logger:         logger.Named("inspector"),
	}
}

// pick is the state of one workflow run.
type pick struct {
	s      *debugsession.Session
	logger *zap.Logger

	mu    sync.Mutex
	state State
	// stops holds the unsubscribe functions of live event subscriptions.
	stops         []func()
	styleInjected bool
}

func (p *pick) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	p.logger.Debug("Pick state changed.", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (p *pick) subscribe(method string, h protocol.EventHandler) func() {
	stop := p.s.Channel.On(method, h)
	p.mu.Lock()
	p.stops = append(p.stops, stop)
	p.mu.Unlock()
	return stop
}

func (p *pick) unsubscribeAll() {
	p.mu.Lock()
	stops := p.stops
	p.stops = nil
	p.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// Pick enables inspect mode on the session, waits for the user to pick a node and
// extracts its data. Bounds and Dimensions of the result are in the target's local
// space. Cancellation of ctx abandons the pick and returns (nil, nil). Inspect mode
// is always disabled before Pick returns.
func (i *Inspector) Pick(ctx context.Context, s *debugsession.Session) (data *schemas.ElementData, err error) {
	p := &pick{
		s:      s,
		logger: i.logger.With(zap.String("session_id", string(s.SessionID))),
		state:  StateIdle,
	}

	defer func() {
		i.disable(ctx, p)
		switch {
		case ctx.Err() != nil && data == nil:
			p.transition(StateCancelled)
			data, err = nil, nil
		case err != nil:
			p.transition(StateErrored)
		default:
			p.transition(StateDisabled)
		}
	}()

	picked, destroyed := i.watch(p)

	if err := i.enable(ctx, p); err != nil {
		return nil, err
	}
	p.transition(StateEnabled)

	var backendID cdp.BackendNodeID
	select {
	case <-ctx.Done():
		return nil, nil
	case <-destroyed:
		return nil, ErrTargetDestroyed
	case backendID = <-picked:
	}
	p.unsubscribeAll()
	i.removeBlockStyle(ctx, p)
	p.transition(StateNodePicked)

	data, err = i.extract(ctx, s, backendID)
	if err != nil {
		return nil, err
	}
	p.transition(StateDataExtracted)
	return data, nil
}

// watch subscribes to the pick and destruction events of the session before inspect
// mode is turned on, so no pick can be missed.
func (i *Inspector) watch(p *pick) (<-chan cdp.BackendNodeID, <-chan struct{}) {
	picked := make(chan cdp.BackendNodeID, 1)
	destroyed := make(chan struct{}, 1)
	s := p.s

	p.subscribe(protocol.EventInspectNodeRequested, func(ev protocol.Event) {
		if ev.SessionID != s.SessionID {
			return
		}
		var payload overlay.EventInspectNodeRequested
		if err := protocol.Decode(ev.Params, &payload); err != nil {
			p.logger.Debug("Ignoring undecodable pick event.", zap.Error(err))
			return
		}
		select {
		case picked <- payload.BackendNodeID:
		default:
		}
	})

	signal := func() {
		select {
		case destroyed <- struct{}{}:
		default:
		}
	}
	p.subscribe(protocol.EventDetachedFromTarget, func(ev protocol.Event) {
		var payload target.EventDetachedFromTarget
		if err := protocol.Decode(ev.Params, &payload); err == nil && payload.SessionID == s.SessionID {
			signal()
		}
	})
	p.subscribe(protocol.EventTargetDestroyed, func(ev protocol.Event) {
		var payload target.EventTargetDestroyed
		if err := protocol.Decode(ev.Params, &payload); err == nil && payload.TargetID == s.TargetID {
			signal()
		}
	})

	return picked, destroyed
}

func (i *Inspector) enable(ctx context.Context, p *pick) error {
	s := p.s

	var eval runtime.EvaluateReturns
	err := s.Call(ctx, runtime.CommandEvaluate, runtime.Evaluate(injectBlockStyleExpr(i.cfg.BlockStyleID)), &eval)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("Could not inject pick blocking style.", zap.Error(err))
	case eval.ExceptionDetails != nil:
		p.logger.Warn("Pick blocking style script threw.", zap.String("exception", eval.ExceptionDetails.Text))
	default:
		p.mu.Lock()
		p.styleInjected = true
		p.mu.Unlock()
	}

	enables := []struct {
		method string
		params any
	}{
		{dom.CommandEnable, dom.Enable()},
		{css.CommandEnable, css.Enable()},
		{overlay.CommandEnable, overlay.Enable()},
		{debugger.CommandEnable, debugger.Enable()},
		{runtime.CommandEnable, runtime.Enable()},
	}
	for _, e := range enables {
		if err := s.Call(ctx, e.method, e.params, nil); err != nil {
			return &debugsession.SessionError{Step: StepEnable, Err: fmt.Errorf("%s: %w", e.method, err)}
		}
	}

	params := overlay.SetInspectMode(overlay.InspectModeSearchForNode).WithHighlightConfig(highlightConfig)
	if err := s.Call(ctx, overlay.CommandSetInspectMode, params, nil); err != nil {
		return &debugsession.SessionError{Step: StepInspectMode, Err: err}
	}
	return nil
}

func (i *Inspector) removeBlockStyle(ctx context.Context, p *pick) {
	p.mu.Lock()
	injected := p.styleInjected
	p.styleInjected = false
	p.mu.Unlock()
	if !injected {
		return
	}
	if err := p.s.Call(ctx, runtime.CommandEvaluate, runtime.Evaluate(removeBlockStyleExpr(i.cfg.BlockStyleID)), nil); err != nil {
		p.logger.Debug("Could not remove pick blocking style.", zap.Error(err))
	}
}

// disable reverts everything enable did. It runs on a detached context so a
// cancelled request still leaves no highlight behind.
func (i *Inspector) disable(ctx context.Context, p *pick) {
	p.unsubscribeAll()

	cleanupCtx, cancel := protocol.CleanupContext(ctx, i.cleanupTimeout)
	defer cancel()

	teardown := []struct {
		method string
		params any
	}{
		{overlay.CommandSetInspectMode, overlay.SetInspectMode(overlay.InspectModeNone)},
		{overlay.CommandHideHighlight, overlay.HideHighlight()},
		{overlay.CommandDisable, overlay.Disable()},
	}
	for _, t := range teardown {
		if err := p.s.Call(cleanupCtx, t.method, t.params, nil); err != nil {
			p.logger.Debug("Teardown command failed.", zap.String("method", t.method), zap.Error(err))
		}
	}
	i.removeBlockStyle(cleanupCtx, p)
}

func (i *Inspector) extract(ctx context.Context, s *debugsession.Session, backendID cdp.BackendNodeID) (*schemas.ElementData, error) {
	if err := s.Call(ctx, dom.CommandGetDocument, dom.GetDocument(), nil); err != nil {
		return nil, &debugsession.SessionError{Step: StepDocument, Err: err}
	}

	var pushed dom.PushNodesByBackendIDsToFrontendReturns
	err := s.Call(ctx, dom.CommandPushNodesByBackendIDsToFrontend,
		dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backendID}), &pushed)
	if err != nil {
		return nil, &debugsession.SessionError{Step: StepPushNode, Err: err}
	}
	if len(pushed.NodeIDs) == 0 || pushed.NodeIDs[0] == 0 {
		return nil, &debugsession.SessionError{Step: StepPushNode, Err: fmt.Errorf("backend node %d has no frontend node", backendID)}
	}
	nodeID := pushed.NodeIDs[0]

	var box dom.GetBoxModelReturns
	if err := s.Call(ctx, dom.CommandGetBoxModel, dom.GetBoxModel().WithNodeID(nodeID), &box); err != nil {
		return nil, &debugsession.SessionError{Step: StepBoxModel, Err: err}
	}
	if box.Model == nil {
		return nil, &debugsession.SessionError{Step: StepBoxModel, Err: errors.New("empty box model")}
	}
	local := geometry.BoundsFromBoxModel(box.Model)

	var matched css.GetMatchedStylesForNodeReturns
	if err := s.Call(ctx, css.CommandGetMatchedStylesForNode, css.GetMatchedStylesForNode(nodeID), &matched); err != nil {
		return nil, &debugsession.SessionError{Step: StepMatchedStyles, Err: err}
	}

	var outer dom.GetOuterHTMLReturns
	if err := s.Call(ctx, dom.CommandGetOuterHTML, dom.GetOuterHTML().WithNodeID(nodeID), &outer); err != nil {
		return nil, &debugsession.SessionError{Step: StepOuterHTML, Err: err}
	}

	data := &schemas.ElementData{
		OuterHTML:  outer.OuterHTML,
		StyleText:  stylesheet.Format(stylesheet.FromMatchedStyles(&matched)),
		Bounds:     local,
		Dimensions: local,
	}
	i.enrich(ctx, s, nodeID, data)
	return data, nil
}
