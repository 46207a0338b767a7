// File: cmd/pick.go
package cmd

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// locatorFlags holds the flags shared by commands that address one view.
type locatorFlags struct {
	view           string
	webview        string
	window         string
	fallbackWindow string
	endpoint       string
}

func (f *locatorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.view, "view", "", "hosted view id")
	cmd.Flags().StringVar(&f.webview, "webview", "", "declared webview id")
	cmd.Flags().StringVar(&f.window, "window", "", "host window id")
	cmd.Flags().StringVar(&f.fallbackWindow, "fallback-window", "", "window used when --window is not given")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "DevTools endpoint (ws:// or http://) of an unconfigured window")
	cmd.MarkFlagsMutuallyExclusive("view", "webview")
	cmd.MarkFlagsOneRequired("view", "webview")
}

func (f *locatorFlags) locator() schemas.TargetLocator {
	if f.view != "" {
		return schemas.HostedView(f.view)
	}
	return schemas.DeclaredWebview(f.webview)
}

func newPickCmd() *cobra.Command {
	var (
		loc      locatorFlags
		viewport schemas.Rect
	)

	pickCmd := &cobra.Command{
		Use:   "pick",
		Short: "Waits for an element to be picked in a view and prints it as JSON",
		Long: `Puts the view into element picking mode and waits for a click. The picked
element is printed as JSON. Interrupting the command (Ctrl-C) cancels the pick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			withEndpoint(cfg, loc.endpoint)
			b, h := newBridge(cfg, logger)
			defer b.Close()

			fallback := loc.fallbackWindow
			if fallback == "" {
				fallback = defaultWindow(h, loc.endpoint)
			}
			req := schemas.InspectRequest{
				Locator:          loc.locator(),
				WindowID:         loc.window,
				FallbackWindowID: fallback,
				Viewport:         viewport,
				Channel:          "cli",
			}

			cmd.PrintErrln("Click an element in the view to pick it (Ctrl-C to cancel).")
			data, err := b.Inspect(ctx, req)
			if err != nil {
				return err
			}
			if data == nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Info("No element picked.", zap.Stringer("locator", req.Locator))
				return errors.New("no element picked")
			}

			out, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode element: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	loc.register(pickCmd)
	pickCmd.Flags().Float64Var(&viewport.X, "viewport-x", 0, "viewport origin x inside the window")
	pickCmd.Flags().Float64Var(&viewport.Y, "viewport-y", 0, "viewport origin y inside the window")
	pickCmd.Flags().Float64Var(&viewport.Width, "viewport-width", 0, "viewport width used to clip bounds")
	pickCmd.Flags().Float64Var(&viewport.Height, "viewport-height", 0, "viewport height used to clip bounds")
	return pickCmd
}
