// File: cmd/targets.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/inspectbridge/internal/observability"
)

func newTargetsCmd() *cobra.Command {
	var (
		window   string
		endpoint string
		asJSON   bool
	)

	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "Lists the DevTools targets visible on a host window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			withEndpoint(cfg, endpoint)
			b, h := newBridge(cfg, observability.GetLogger())
			defer b.Close()

			if window == "" {
				window = defaultWindow(h, endpoint)
			}
			infos, err := b.Targets(ctx, window)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(infos, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tTYPE\tURL")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.TargetID, info.Type, info.URL)
			}
			return tw.Flush()
		},
	}
	targetsCmd.Flags().StringVar(&window, "window", "", "host window id")
	targetsCmd.Flags().StringVar(&endpoint, "endpoint", "", "DevTools endpoint (ws:// or http://) of an unconfigured window")
	targetsCmd.Flags().BoolVar(&asJSON, "json", false, "print targets as JSON")
	return targetsCmd
}
