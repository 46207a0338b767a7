// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/internal/bridge"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/host"
	"github.com/xkilldash9x/inspectbridge/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

const flagAnnotation = "inspectbridge_config_key"

// cliWindowID names the window synthesized from --endpoint.
const cliWindowID = "cli"

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "inspectbridge",
		Short:         "Inspectbridge picks elements and records console output from embedded web views over the DevTools protocol.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindConfigFlags(v, cmd); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "inspectbridge"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting inspectbridge.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPickCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newTargetsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and INSPECTBRIDGE_ environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("INSPECTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFlag marks a flag as overriding the config key.
func configFlag(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, flagAnnotation, []string{key})
}

func bindConfigFlags(v *viper.Viper, cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[flagAnnotation]; len(keys) > 0 && err == nil {
			err = v.BindPFlag(keys[0], f)
		}
	})
	return err
}

func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withEndpoint adds a window for a DevTools endpoint given on the command line.
func withEndpoint(cfg *config.Config, endpoint string) {
	if endpoint == "" {
		return
	}
	for i, w := range cfg.HostCfg.Windows {
		if w.ID == cliWindowID {
			cfg.HostCfg.Windows[i].Endpoint = endpoint
			return
		}
	}
	cfg.HostCfg.Windows = append(cfg.HostCfg.Windows, config.WindowConfig{ID: cliWindowID, Endpoint: endpoint, Zoom: 1})
}

// newBridge wires a bridge to the configured host.
func newBridge(cfg *config.Config, logger *zap.Logger) (*bridge.Bridge, *host.StaticHost) {
	h := host.NewStaticHost(cfg.Host())
	return bridge.New(cfg, h, h, logger), h
}

// defaultWindow picks the window used when a command names none.
func defaultWindow(h *host.StaticHost, endpoint string) string {
	if endpoint != "" {
		return cliWindowID
	}
	if windows := h.Windows(); len(windows) == 1 {
		return windows[0].ID
	}
	return ""
}
