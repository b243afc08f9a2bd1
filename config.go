package goSession

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config groups every tunable of a Controller.
//
// Config values are copied by Builder.WithConfig; later mutation of the
// caller's value has no effect on a built Controller.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Session SessionConfig `mapstructure:"session"`
	Events  EventsConfig  `mapstructure:"events"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the management API. Paths are relative to BaseURL.
type APIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	LoginPath        string        `mapstructure:"login_path"`
	RegisterPath     string        `mapstructure:"register_path"`
	RefreshPath      string        `mapstructure:"refresh_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RefreshTimeout   time.Duration `mapstructure:"refresh_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls selection cascades and startup behavior.
type SessionConfig struct {
	AutoSelectOrganization bool          `mapstructure:"auto_select_organization"`
	AutoSelectProject      bool          `mapstructure:"auto_select_project"`
	RefreshListsOnLogin    bool          `mapstructure:"refresh_lists_on_login"`
	RevalidateOnStart      bool          `mapstructure:"revalidate_on_start"`
	RevalidateTimeout      time.Duration `mapstructure:"revalidate_timeout"`
	WatchStorage           bool          `mapstructure:"watch_storage"`
}

/*
====================================
EVENTS / METRICS / LOGGING
====================================
*/

type EventsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
	// FlushTimeout bounds how long Close waits for queued events. Zero waits
	// until the sink has taken all of them.
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// LoggingConfig is consumed by NewLogger. Format is "json" or "console".
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:          "http://localhost:8080/api/v1",
			LoginPath:        "/auth/login",
			RegisterPath:     "/auth/register",
			RefreshPath:      "/auth/refresh",
			Timeout:          30 * time.Second,
			RefreshTimeout:   15 * time.Second,
			UserAgent:        "goSession/1",
			MaxResponseBytes: 4 << 20,
		},
		Session: SessionConfig{
			AutoSelectOrganization: true,
			AutoSelectProject:      true,
			RefreshListsOnLogin:    true,
			RevalidateOnStart:      false,
			RevalidateTimeout:      30 * time.Second,
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize:   256,
			DropIfFull:   true,
			FlushTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("API BaseURL must be set")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API BaseURL must be an absolute http(s) URL")
	}
	for name, p := range map[string]string{
		"LoginPath":    c.API.LoginPath,
		"RegisterPath": c.API.RegisterPath,
		"RefreshPath":  c.API.RefreshPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("API " + name + " must start with /")
		}
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}
	if c.API.RefreshTimeout < 0 {
		return errors.New("API RefreshTimeout must be >= 0")
	}
	if c.API.MaxResponseBytes < 0 {
		return errors.New("API MaxResponseBytes must be >= 0")
	}

	if c.Session.RevalidateTimeout < 0 {
		return errors.New("Session RevalidateTimeout must be >= 0")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when events are enabled")
	}
	if c.Events.FlushTimeout < 0 {
		return errors.New("Events FlushTimeout must be >= 0")
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
			return errors.New("Logging Level is not a valid level")
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return errors.New("Logging Format must be json or console")
	}
	return nil
}
