package goSession

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GOSESSION_API_BASE_URL.
const EnvPrefix = "GOSESSION"

// LoadConfig reads path (YAML, JSON or TOML by extension) over
// DefaultConfig, applies GOSESSION_* environment overrides and validates the
// result. An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override nested
// fields during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.login_path", d.API.LoginPath)
	v.SetDefault("api.register_path", d.API.RegisterPath)
	v.SetDefault("api.refresh_path", d.API.RefreshPath)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.refresh_timeout", d.API.RefreshTimeout)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.max_response_bytes", d.API.MaxResponseBytes)

	v.SetDefault("session.auto_select_organization", d.Session.AutoSelectOrganization)
	v.SetDefault("session.auto_select_project", d.Session.AutoSelectProject)
	v.SetDefault("session.refresh_lists_on_login", d.Session.RefreshListsOnLogin)
	v.SetDefault("session.revalidate_on_start", d.Session.RevalidateOnStart)
	v.SetDefault("session.revalidate_timeout", d.Session.RevalidateTimeout)
	v.SetDefault("session.watch_storage", d.Session.WatchStorage)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.buffer_size", d.Events.BufferSize)
	v.SetDefault("events.drop_if_full", d.Events.DropIfFull)
	v.SetDefault("events.flush_timeout", d.Events.FlushTimeout)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
