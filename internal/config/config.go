// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Protocol() ProtocolConfig
	Resolver() ResolverConfig
	Inspector() InspectorConfig
	Console() ConsoleConfig
	Server() ServerConfig
	Host() HostConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	ProtocolCfg  ProtocolConfig  `mapstructure:"protocol" yaml:"protocol"`
	ResolverCfg  ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	InspectorCfg InspectorConfig `mapstructure:"inspector" yaml:"inspector"`
	ConsoleCfg   ConsoleConfig   `mapstructure:"console" yaml:"console"`
	ServerCfg    ServerConfig    `mapstructure:"server" yaml:"server"`
	HostCfg      HostConfig      `mapstructure:"host" yaml:"host"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Protocol() ProtocolConfig   { return c.ProtocolCfg }
func (c *Config) Resolver() ResolverConfig   { return c.ResolverCfg }
func (c *Config) Inspector() InspectorConfig { return c.InspectorCfg }
func (c *Config) Console() ConsoleConfig     { return c.ConsoleCfg }
func (c *Config) Server() ServerConfig       { return c.ServerCfg }
func (c *Config) Host() HostConfig           { return c.HostCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ProtocolConfig tunes the DevTools protocol transport.
type ProtocolConfig struct {
	// CommandTimeout bounds a single command round trip. Zero disables the bound.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// CleanupTimeout bounds the teardown commands that run after a request ends.
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" yaml:"cleanup_timeout"`
	// DialTimeout bounds endpoint discovery and the websocket handshake.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ResolverConfig configures sub-target discovery.
type ResolverConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// ExtensionIDs restricts declared webview matching to these extension ids. Empty allows any.
	ExtensionIDs []string `mapstructure:"extension_ids" yaml:"extension_ids"`
}

// InspectorConfig configures the interactive pick workflow.
type InspectorConfig struct {
	InnerTextLimit int    `mapstructure:"inner_text_limit" yaml:"inner_text_limit"`
	BlockStyleID   string `mapstructure:"block_style_id" yaml:"block_style_id"`
}

// ConsoleConfig configures passive console capture.
type ConsoleConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// ServerConfig configures the HTTP and websocket API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	EnableMetrics   bool          `mapstructure:"enable_metrics" yaml:"enable_metrics"`
}

// HostConfig declares the host windows and hosted views the bridge can reach.
type HostConfig struct {
	Windows []WindowConfig `mapstructure:"windows" yaml:"windows"`
	Views   []ViewConfig   `mapstructure:"views" yaml:"views"`
}

// WindowConfig describes one host window exposing a DevTools endpoint.
type WindowConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
	// Endpoint is either a ws:// debugger URL or an http:// DevTools address.
	Endpoint string  `mapstructure:"endpoint" yaml:"endpoint"`
	Zoom     float64 `mapstructure:"zoom" yaml:"zoom"`
}

// ViewConfig describes a view hosted inside a window.
type ViewConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	WindowID string `mapstructure:"window_id" yaml:"window_id"`
	// ContextID is the execution context identity of the view (its page target id).
	ContextID string  `mapstructure:"context_id" yaml:"context_id"`
	Zoom      float64 `mapstructure:"zoom" yaml:"zoom"`
	OffsetX   float64 `mapstructure:"offset_x" yaml:"offset_x"`
	OffsetY   float64 `mapstructure:"offset_y" yaml:"offset_y"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "inspectbridge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Protocol --
	v.SetDefault("protocol.command_timeout", "30s")
	v.SetDefault("protocol.cleanup_timeout", "5s")
	v.SetDefault("protocol.dial_timeout", "10s")

	// -- Resolver --
	v.SetDefault("resolver.timeout", "10s")
	v.SetDefault("resolver.poll_interval", "500ms")
	v.SetDefault("resolver.extension_ids", []string{})

	// -- Inspector --
	v.SetDefault("inspector.inner_text_limit", 100)
	v.SetDefault("inspector.block_style_id", "__inspectbridge_pick_block")

	// -- Console --
	v.SetDefault("console.capacity", 1000)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:7420")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("could not expand logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ResolverCfg.Timeout <= 0 {
		return fmt.Errorf("resolver.timeout must be a positive duration")
	}
	if c.ResolverCfg.PollInterval <= 0 {
		return fmt.Errorf("resolver.poll_interval must be a positive duration")
	}
	if c.ResolverCfg.PollInterval > c.ResolverCfg.Timeout {
		return fmt.Errorf("resolver.poll_interval must not exceed resolver.timeout")
	}
	if c.InspectorCfg.InnerTextLimit <= 0 {
		return fmt.Errorf("inspector.inner_text_limit must be a positive integer")
	}
	if c.InspectorCfg.BlockStyleID == "" {
		return fmt.Errorf("inspector.block_style_id is required")
	}
	if c.ConsoleCfg.Capacity <= 0 {
		return fmt.Errorf("console.capacity must be a positive integer")
	}
	if c.ProtocolCfg.CleanupTimeout <= 0 {
		return fmt.Errorf("protocol.cleanup_timeout must be a positive duration")
	}
	if err := c.HostCfg.Validate(); err != nil {
		return fmt.Errorf("host configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that windows and views are uniquely named and that every view
// references a declared window.
func (h *HostConfig) Validate() error {
	windows := make(map[string]struct{}, len(h.Windows))
	for _, w := range h.Windows {
		if w.ID == "" || w.Endpoint == "" {
			return fmt.Errorf("windows require both id and endpoint")
		}
		if _, dup := windows[w.ID]; dup {
			return fmt.Errorf("duplicate window id %q", w.ID)
		}
		if w.Zoom < 0 {
			return fmt.Errorf("window %q has a negative zoom", w.ID)
		}
		windows[w.ID] = struct{}{}
	}

	views := make(map[string]struct{}, len(h.Views))
	for _, vw := range h.Views {
		if vw.ID == "" || vw.ContextID == "" {
			return fmt.Errorf("views require both id and context_id")
		}
		if _, dup := views[vw.ID]; dup {
			return fmt.Errorf("duplicate view id %q", vw.ID)
		}
		if _, ok := windows[vw.WindowID]; !ok {
			return fmt.Errorf("view %q references unknown window %q", vw.ID, vw.WindowID)
		}
		if vw.Zoom < 0 {
			return fmt.Errorf("view %q has a negative zoom", vw.ID)
		}
		views[vw.ID] = struct{}{}
	}
	return nil
}
