// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "PAIRVIEW_CONFIG"

// Environment selects an override section.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the viewer configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig     `yaml:"paths"`
	Server    ServerConfig    `yaml:"server"`
	Signal    SignalConfig    `yaml:"signal"`
	ICE       ICEConfig       `yaml:"ice"`
	RPC       RPCConfig       `yaml:"rpc"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	UI        UIConfig        `yaml:"ui"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment may replace. Non-zero
// fields win.
type Overrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Signal    *SignalConfig    `yaml:"signal,omitempty"`
	RPC       *RPCConfig       `yaml:"rpc,omitempty"`
	Reconnect *ReconnectConfig `yaml:"reconnect,omitempty"`
}

// PathsConfig configures local directories.
type PathsConfig struct {
	// State holds preferences and the token sealing key.
	State string `yaml:"state"`

	// Log, when set, receives JSON log records.
	Log string `yaml:"log"`

	// Mount, when set, is where the session's files are mounted
	// read-only.
	Mount string `yaml:"mount"`
}

// ServerConfig configures the WebSocket mode.
type ServerConfig struct {
	// URL is the editor's ws:// or wss:// endpoint.
	URL string `yaml:"url"`

	// LoginURL is the base URL of the login endpoint. Empty derives it
	// from URL.
	LoginURL string `yaml:"login_url"`

	// Batching joins each drain cycle's frames into one JSON array.
	Batching bool `yaml:"batching"`
}

// SignalConfig configures the signaled WebRTC mode.
type SignalConfig struct {
	// BaseURL is where the /call and /ice endpoints live.
	BaseURL string `yaml:"base_url"`
}

// ICEServerConfig is one STUN or TURN entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// ICEConfig selects ICE servers. File takes precedence over Servers;
// with neither, built-in public servers are used unless HostOnly is
// set.
type ICEConfig struct {
	Servers  []ICEServerConfig `yaml:"servers,omitempty"`
	File     string            `yaml:"file,omitempty"`
	HostOnly bool              `yaml:"host_only,omitempty"`
}

// RPCConfig tunes the JSON-RPC engine.
type RPCConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DrainDelay     time.Duration `yaml:"drain_delay"`
	PendingDelay   time.Duration `yaml:"pending_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`
}

// ReconnectConfig tunes the WebSocket backoff. Zero MaxBackoff is
// uncapped.
type ReconnectConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// UIConfig sets the viewer's starting state.
type UIConfig struct {
	// ColorScheme is used when no scheme has been saved. Empty picks
	// one from the terminal background.
	ColorScheme string `yaml:"color_scheme"`
	Follow      bool   `yaml:"follow"`
	// Prefetch fetches the active file's text when it is missing.
	Prefetch bool `yaml:"prefetch"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			State: "${XDG_STATE_HOME:-${HOME}/.local/state}/pairview",
		},
		RPC: RPCConfig{
			RequestTimeout: 30 * time.Second,
			DrainDelay:     10 * time.Millisecond,
			PendingDelay:   time.Millisecond,
			MaxRetryDelay:  10 * time.Second,
		},
		Reconnect: ReconnectConfig{InitialBackoff: time.Second},
		UI:        UIConfig{Follow: true, Prefetch: true},
	}
}

// Load reads the file at path, or at $PAIRVIEW_CONFIG when path is
// empty. With neither, it returns the expanded defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path over the defaults, applies the
// environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Reconnect: &ReconnectConfig{MaxBackoff: time.Minute}}
		}
	}
	if overrides == nil {
		return
	}

	if o := overrides.Paths; o != nil {
		overlay(&c.Paths.State, o.State)
		overlay(&c.Paths.Log, o.Log)
	}
	if o := overrides.Server; o != nil {
		overlay(&c.Server.URL, o.URL)
		overlay(&c.Server.LoginURL, o.LoginURL)
		// Batching is a bool, so the override always applies.
		c.Server.Batching = o.Batching
	}
	if o := overrides.Signal; o != nil {
		overlay(&c.Signal.BaseURL, o.BaseURL)
	}
	if o := overrides.RPC; o != nil {
		overlay(&c.RPC.RequestTimeout, o.RequestTimeout)
		overlay(&c.RPC.DrainDelay, o.DrainDelay)
		overlay(&c.RPC.PendingDelay, o.PendingDelay)
		overlay(&c.RPC.MaxRetryDelay, o.MaxRetryDelay)
	}
	if o := overrides.Reconnect; o != nil {
		overlay(&c.Reconnect.InitialBackoff, o.InitialBackoff)
		overlay(&c.Reconnect.MaxBackoff, o.MaxBackoff)
	}
}

func overlay[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["PAIRVIEW_STATE"] = c.Paths.State
	c.Paths.Log = expandVars(c.Paths.Log, vars)
	c.Paths.Mount = expandVars(c.Paths.Mount, vars)
	c.ICE.File = expandVars(c.ICE.File, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. A default may itself
// contain one level of ${VAR}.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		if parts[2] == "" {
			return ""
		}
		return expandVars(parts[2], vars)
	})
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	} else if !filepath.IsAbs(c.Paths.State) {
		errs = append(errs, fmt.Errorf("paths.state must be absolute, got %q", c.Paths.State))
	}
	if c.Paths.Mount != "" && !filepath.IsAbs(c.Paths.Mount) {
		errs = append(errs, fmt.Errorf("paths.mount must be absolute, got %q", c.Paths.Mount))
	}
	if c.Server.URL != "" {
		if err := checkURL(c.Server.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("server.url: %w", err))
		}
	}
	if c.Server.LoginURL != "" {
		if err := checkURL(c.Server.LoginURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("server.login_url: %w", err))
		}
	}
	if c.Signal.BaseURL != "" {
		if err := checkURL(c.Signal.BaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("signal.base_url: %w", err))
		}
	}
	for i, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d].urls is required", i))
		}
	}
	for name, value := range map[string]time.Duration{
		"rpc.request_timeout":       c.RPC.RequestTimeout,
		"rpc.drain_delay":           c.RPC.DrainDelay,
		"rpc.pending_delay":         c.RPC.PendingDelay,
		"rpc.max_retry_delay":       c.RPC.MaxRetryDelay,
		"reconnect.initial_backoff": c.Reconnect.InitialBackoff,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Reconnect.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff must not be negative"))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return fmt.Errorf("scheme must be one of %v, got %q", schemes, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// LoginEndpoint returns the login base URL, deriving http(s)://host
// from the WebSocket URL when none is configured.
func (c *Config) LoginEndpoint() (string, error) {
	if c.Server.LoginURL != "" {
		return c.Server.LoginURL, nil
	}
	if c.Server.URL == "" {
		return "", fmt.Errorf("no server configured")
	}
	parsed, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("parsing server.url: %w", err)
	}
	scheme := "http"
	if parsed.Scheme == "wss" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: parsed.Host}).String(), nil
}
