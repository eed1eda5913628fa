// Package config loads service configuration from a YAML file with
// environment overrides, and hot-reloads tunables on file changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	// Hosted agent service
	Endpoint      string `mapstructure:"endpoint"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model_deployment"`
	ResearchModel string `mapstructure:"research_model_deployment"`
	BingResource  string `mapstructure:"bing_resource"`

	// Agent defaults
	AgentName    string `mapstructure:"agent_name"`
	Instructions string `mapstructure:"instructions"`

	// Poll loop
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// HTTP server
	HTTPPort int `mapstructure:"http_port"`

	// Output
	SaveFiles    bool   `mapstructure:"save_files"`
	ReportPath   string `mapstructure:"report_path"`
	ProgressPath string `mapstructure:"progress_path"`
	HistoryDB    string `mapstructure:"history_db"`
	PresetsPath  string `mapstructure:"presets_path"`

	// Streaming
	StreamRingCapacity int `mapstructure:"stream_ring_capacity"`

	// Submission rate limiting
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Telemetry
	Tracing TracingConfig `mapstructure:"tracing"`
}

// RateLimitConfig bounds research submissions.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// envBindings maps config keys to the environment variables the original
// deployment uses.
var envBindings = map[string]string{
	"endpoint":                  "PROJECT_ENDPOINT",
	"api_key":                   "PROJECT_API_KEY",
	"model_deployment":          "MODEL_DEPLOYMENT_NAME",
	"research_model_deployment": "DEEP_RESEARCH_MODEL_DEPLOYMENT_NAME",
	"bing_resource":             "BING_RESOURCE_NAME",
	"http_port":                 "HTTP_PORT",
	"poll_interval":             "POLL_INTERVAL",
	"history_db":                "HISTORY_DB_PATH",
	"stream_ring_capacity":      "STREAMING_RING_CAPACITY",
	"tracing.otlp_endpoint":     "OTLP_ENDPOINT",
}

// Load reads configuration from path (or CONFIG_PATH / the default search
// locations when path is empty) with env overrides. A missing config file is
// not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deepresearch")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_name", "research-agent")
	v.SetDefault("instructions", "You are a helpful Agent that assists in researching scientific topics.")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("http_port", 8080)
	v.SetDefault("save_files", true)
	v.SetDefault("report_path", "research_report.md")
	v.SetDefault("progress_path", "research_progress.txt")
	v.SetDefault("history_db", "deepresearch.db")
	v.SetDefault("stream_ring_capacity", 256)
	v.SetDefault("rate_limit.per_minute", 6)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "deepresearch")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// requiredFields are the settings a deployment must provide to reach the
// hosted agent service.
var requiredFields = []struct {
	name  string
	value func(*Config) string
}{
	{"PROJECT_ENDPOINT", func(c *Config) string { return c.Endpoint }},
	{"MODEL_DEPLOYMENT_NAME", func(c *Config) string { return c.Model }},
	{"DEEP_RESEARCH_MODEL_DEPLOYMENT_NAME", func(c *Config) string { return c.ResearchModel }},
	{"BING_RESOURCE_NAME", func(c *Config) string { return c.BingResource }},
}

// Missing returns the env names of required settings that are unset.
func (c *Config) Missing() []string {
	var missing []string
	for _, f := range requiredFields {
		if f.value(c) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate returns an error naming every missing required setting.
func (c *Config) Validate() error {
	if m := c.Missing(); len(m) > 0 {
		return fmt.Errorf("missing required configuration: %v", m)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	return nil
}
