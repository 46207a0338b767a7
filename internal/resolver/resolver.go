// Package resolver finds the protocol target that backs a locator.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/host"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
	"github.com/xkilldash9x/inspectbridge/internal/protocol"
)

// ErrNotFound is returned when no target matches the locator.
var ErrNotFound = errors.New("no matching target")

const targetTypePage = "page"

// Resolver matches locators against the targets a channel can see.
type Resolver struct {
	views   host.ViewRegistry
	cfg     config.ResolverConfig
	allowed map[string]struct{}
	logger  *zap.Logger
}

func New(views host.ViewRegistry, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	allowed := make(map[string]struct{}, len(cfg.ExtensionIDs))
	for _, id := range cfg.ExtensionIDs {
		allowed[id] = struct{}{}
	}
	return &Resolver{
		views:   views,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger.Named("resolver"),
	}
}

// Targets lists the targets visible on ch.
func Targets(ctx context.Context, ch protocol.Channel) ([]*target.Info, error) {
	var res target.GetTargetsReturns
	if err := protocol.Call(ctx, ch, "", target.CommandGetTargets, target.GetTargets(), &res); err != nil {
		return nil, fmt.Errorf("could not list targets: %w", err)
	}
	return res.TargetInfos, nil
}

// Resolve makes one attempt at finding the target for locator.
func (r *Resolver) Resolve(ctx context.Context, ch protocol.Channel, locator schemas.TargetLocator) (target.ID, error) {
	if err := locator.Validate(); err != nil {
		return "", err
	}

	infos, err := Targets(ctx, ch)
	if err != nil {
		return "", err
	}

	switch locator.Kind {
	case schemas.KindHostedView:
		return r.resolveHostedView(infos, locator.ID)
	case schemas.KindDeclaredWebview:
		return r.resolveDeclaredWebview(infos, locator.ID)
	}
	return "", fmt.Errorf("%w: %s", schemas.ErrInvalidLocator, locator.Kind)
}

func (r *Resolver) resolveHostedView(infos []*target.Info, id string) (target.ID, error) {
	view, ok := r.views.ResolveView(id)
	if !ok {
		return "", fmt.Errorf("%w: hosted view %s is not registered", ErrNotFound, id)
	}
	for _, info := range infos {
		if info == nil || info.Type != targetTypePage {
			continue
		}
		if info.TargetID == view.ContextID {
			return info.TargetID, nil
		}
	}
	return "", fmt.Errorf("%w: hosted view %s", ErrNotFound, id)
}

func (r *Resolver) resolveDeclaredWebview(infos []*target.Info, id string) (target.ID, error) {
	for _, info := range infos {
		if info == nil {
			continue
		}
		ok, err := MatchDeclaredWebview(info.URL, id, r.allowed)
		if err != nil {
			r.logger.Debug("Skipping target with malformed URL.",
				zap.String("target_id", string(info.TargetID)),
				zap.Error(err))
			continue
		}
		if ok {
			return info.TargetID, nil
		}
	}
	return "", fmt.Errorf("%w: declared webview %s", ErrNotFound, id)
}

// WaitFor polls Resolve at the configured interval until a target appears or the
// configured timeout elapses, in which case it returns ErrNotFound. Cancellation of
// ctx is returned as the context's error.
func (r *Resolver) WaitFor(ctx context.Context, ch protocol.Channel, locator schemas.TargetLocator) (target.ID, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(r.cfg.PollInterval), 1)
	attempts := 0
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			// Wait gives up early when the next poll would pass the deadline. Let the
			// deadline arrive so a caller deadline is told apart from the resolver's own.
			<-waitCtx.Done()
			break
		}
		attempts++
		observability.RecordResolverPoll()

		id, err := r.Resolve(waitCtx, ch, locator)
		if err == nil {
			r.logger.Debug("Target resolved.",
				zap.Stringer("locator", locator),
				zap.String("target_id", string(id)),
				zap.Int("attempts", attempts))
			return id, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if waitCtx.Err() != nil {
			break
		}
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.logger.Debug("Gave up waiting for target.",
		zap.Stringer("locator", locator),
		zap.Int("attempts", attempts),
		zap.Duration("timeout", r.cfg.Timeout))
	return "", fmt.Errorf("%w: %s after %s", ErrNotFound, locator, r.cfg.Timeout)
}
