// File: cmd/logs.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/consolelog"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
)

func newLogsCmd() *cobra.Command {
	var (
		loc      locatorFlags
		duration time.Duration
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Records the console output of a view and prints it",
		Long: `Captures console messages of a view until --duration elapses or the command
is interrupted, then prints the recorded lines.`,
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
			locator := loc.locator()
			token, err := b.StartConsoleCapture(ctx, schemas.ConsoleCaptureRequest{
				Locator:          locator,
				WindowID:         loc.window,
				FallbackWindowID: fallback,
			})
			if err != nil {
				return err
			}
			logger.Info("Recording console output.", zap.Stringer("locator", locator), zap.Duration("duration", duration))

			waitCtx := ctx
			if duration > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			<-waitCtx.Done()
			b.CancelConsoleCapture(locator, token)

			logs, err := b.Logs(locator.Key())
			if errors.Is(err, consolelog.ErrNoLogs) {
				cmd.PrintErrln("No console output recorded.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), logs)
			return nil
		},
	}
	loc.register(logsCmd)
	logsCmd.Flags().DurationVar(&duration, "duration", 0, "how long to record (0 records until interrupted)")
	return logsCmd
}
