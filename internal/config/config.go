// Package config holds the application configuration and its defaults.
// Values come from viper: flags, ADVISOR_* environment variables and .advisor.yaml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the full configuration tree.
type AppConfig struct {
	Verbose    bool             `mapstructure:"verbose"`
	DB         DBConfig         `mapstructure:"db"`
	Server     ServerConfig     `mapstructure:"server"`
	Cron       CronConfig       `mapstructure:"cron"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Adapters   AdaptersConfig   `mapstructure:"adapters"`
	Google     GoogleConfig     `mapstructure:"google"`
	HubSpot    HubSpotConfig    `mapstructure:"hubspot"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Log        LogConfig        `mapstructure:"log"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
}

type DBConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type CronConfig struct {
	// Secret guards /api/cron. Empty disables the endpoint.
	Secret string `mapstructure:"secret"`
}

type ScanConfig struct {
	Lookback    time.Duration `mapstructure:"lookback" validate:"min=1m"`
	Interval    time.Duration `mapstructure:"interval" validate:"min=10s"`
	SyncFirst   bool          `mapstructure:"syncFirst"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1,max=64"`
}

type SchedulingConfig struct {
	Timezone        string `mapstructure:"timezone" validate:"required,timezone"`
	RangeDays       int    `mapstructure:"rangeDays" validate:"min=1,max=60"`
	MaxCandidates   int    `mapstructure:"maxCandidates" validate:"min=1,max=50"`
	Presented       int    `mapstructure:"presented" validate:"min=1,max=10"`
	DefaultDuration int    `mapstructure:"defaultDuration" validate:"min=15,max=480"`
}

type EngineConfig struct {
	MaxClarifications int `mapstructure:"maxClarifications" validate:"min=0,max=20"`
}

type AdaptersConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" validate:"min=100ms"`
	ProbeTimeout time.Duration `mapstructure:"probeTimeout" validate:"min=100ms"`
}

type GoogleConfig struct {
	APIBase      string `mapstructure:"apiBase" validate:"omitempty,url"`
	CalendarBase string `mapstructure:"calendarBase" validate:"omitempty,url"`
}

type HubSpotConfig struct {
	APIBase      string `mapstructure:"apiBase" validate:"omitempty,url"`
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
}

type PolicyConfig struct {
	Dir string `mapstructure:"dir"`
}

type TelemetryConfig struct {
	PostHogKey string `mapstructure:"posthogKey"`
}

type LogConfig struct {
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Location resolves the scheduling timezone. Validation guarantees it loads.
func (c SchedulingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", DefaultDBPath())
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("cron.secret", "")
	v.SetDefault("scan.lookback", time.Hour)
	v.SetDefault("scan.interval", 5*time.Minute)
	v.SetDefault("scan.syncFirst", true)
	v.SetDefault("scan.concurrency", 4)
	v.SetDefault("scheduling.timezone", "America/New_York")
	v.SetDefault("scheduling.rangeDays", 7)
	v.SetDefault("scheduling.maxCandidates", 5)
	v.SetDefault("scheduling.presented", 3)
	v.SetDefault("scheduling.defaultDuration", 60)
	v.SetDefault("engine.maxClarifications", 3)
	v.SetDefault("adapters.timeout", 10*time.Second)
	v.SetDefault("adapters.probeTimeout", 5*time.Second)
	v.SetDefault("google.apiBase", "")
	v.SetDefault("google.calendarBase", "")
	v.SetDefault("hubspot.apiBase", "")
	v.SetDefault("hubspot.clientId", "")
	v.SetDefault("hubspot.clientSecret", "")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("policy.dir", "")
	v.SetDefault("telemetry.posthogKey", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("prompts.dir", "")
}

var validate = validator.New()

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// The deployment platform's cron secret is honoured when ours is unset.
	if cfg.Cron.Secret == "" {
		cfg.Cron.Secret = strings.TrimSpace(os.Getenv("CRON_SECRET"))
	}
	if err := Validate(&cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Scheduling.Presented > cfg.Scheduling.MaxCandidates {
		return fmt.Errorf("invalid configuration: scheduling.presented (%d) exceeds scheduling.maxCandidates (%d)",
			cfg.Scheduling.Presented, cfg.Scheduling.MaxCandidates)
	}
	return nil
}
