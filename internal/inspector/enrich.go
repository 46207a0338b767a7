package inspector

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

// enrich fills the optional fields of data. The fetches run concurrently and each
// failure only leaves its own field empty.
func (i *Inspector) enrich(ctx context.Context, s *debugsession.Session, nodeID cdp.NodeID, data *schemas.ElementData) {
	logger := i.logger.With(zap.String("session_id", string(s.SessionID)))

	var resolved dom.ResolveNodeReturns
	objectID := runtime.RemoteObjectID("")
	if err := s.Call(ctx, dom.CommandResolveNode, dom.ResolveNode().WithNodeID(nodeID), &resolved); err != nil {
		logger.Debug("Could not resolve node; skipping script enrichment.", zap.Error(err))
	} else if resolved.Object != nil {
		objectID = resolved.Object.ObjectID
	}

	var (
		ancestors []schemas.AncestorEntry
		attrs     map[string]string
		computed  map[string]string
		innerText *string
	)

	var g errgroup.Group
	if objectID != "" {
		g.Go(func() error {
			var chain []schemas.AncestorEntry
			if err := callOn(ctx, s, objectID, ancestorChainFn, &chain); err != nil {
				logger.Debug("Ancestor chain unavailable.", zap.Error(err))
				return nil
			}
			ancestors = chain
			return nil
		})
		g.Go(func() error {
			var text string
			if err := callOn(ctx, s, objectID, innerTextFn, &text); err != nil {
				logger.Debug("Inner text unavailable.", zap.Error(err))
				return nil
			}
			text = truncate(text, i.cfg.InnerTextLimit)
			innerText = &text
			return nil
		})
	}
	g.Go(func() error {
		var res dom.GetAttributesReturns
		if err := s.Call(ctx, dom.CommandGetAttributes, dom.GetAttributes(nodeID), &res); err != nil {
			logger.Debug("Attributes unavailable.", zap.Error(err))
			return nil
		}
		attrs = attributeMap(res.Attributes)
		return nil
	})
	g.Go(func() error {
		var res css.GetComputedStyleForNodeReturns
		if err := s.Call(ctx, css.CommandGetComputedStyleForNode, css.GetComputedStyleForNode(nodeID), &res); err != nil {
			logger.Debug("Computed styles unavailable.", zap.Error(err))
			return nil
		}
		computed = make(map[string]string, len(res.ComputedStyle))
		for _, p := range res.ComputedStyle {
			if p != nil {
				computed[p.Name] = p.Value
			}
		}
		return nil
	})
	_ = g.Wait()

	if objectID != "" {
		if err := s.Call(ctx, runtime.CommandReleaseObject, runtime.ReleaseObject(objectID), nil); err != nil {
			logger.Debug("Could not release node object.", zap.Error(err))
		}
	}

	data.Ancestors = ancestors
	data.Attributes = attrs
	data.ComputedStyles = computed
	data.InnerText = innerText
}

// callOn runs fn with the remote object as this and decodes its JSON value into res.
func callOn(ctx context.Context, s *debugsession.Session, objectID runtime.RemoteObjectID, fn string, res any) error {
	var out runtime.CallFunctionOnReturns
	params := runtime.CallFunctionOn(fn).WithObjectID(objectID).WithReturnByValue(true)
	if err := s.Call(ctx, runtime.CommandCallFunctionOn, params, &out); err != nil {
		return err
	}
	if out.ExceptionDetails != nil {
		return &protocol.CommandError{Method: runtime.CommandCallFunctionOn, Message: out.ExceptionDetails.Text}
	}
	if out.Result == nil || len(out.Result.Value) == 0 {
		return errNoValue
	}
	return protocol.Decode([]byte(out.Result.Value), res)
}

// attributeMap folds DOM.getAttributes' flat name, value list into a map.
func attributeMap(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

// truncate keeps the first limit runes of s and marks the cut with an ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + ellipsis
}
