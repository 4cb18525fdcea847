package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"respiration-qa/internal/logging"
	"respiration-qa/internal/pipeline"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// AnalysisConfig holds the data location and instrument parameters.
type AnalysisConfig struct {
	DataRoot         string  `mapstructure:"data_root"`
	SamplingPeriod   float64 `mapstructure:"sampling_period"`
	MinBeamDuration  float64 `mapstructure:"min_beam_duration"`
	UnitScale        float64 `mapstructure:"unit_scale"`
	Workers          int     `mapstructure:"workers"`
	FailureIsolation string  `mapstructure:"failure_isolation"`
}

// WatchConfig governs periodic re-analysis.
type WatchConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// AlertingConfig defines tolerances and routing.
type AlertingConfig struct {
	Enabled                    bool           `mapstructure:"enabled"`
	ReproducibilityToleranceMM float64        `mapstructure:"reproducibility_tolerance_mm"`
	StabilityToleranceMM       float64        `mapstructure:"stability_tolerance_mm"`
	Channels                   []string       `mapstructure:"channels"`
	Telegram                   TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram bot delivery.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESPQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "respqa")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("analysis.data_root", "./data")
	v.SetDefault("analysis.sampling_period", 0.015)
	v.SetDefault("analysis.min_beam_duration", 0.1)
	v.SetDefault("analysis.unit_scale", 10.0)
	v.SetDefault("analysis.workers", 1)
	v.SetDefault("analysis.failure_isolation", string(pipeline.IsolatePatient))

	v.SetDefault("watch.interval", "1h")
	v.SetDefault("watch.startup_delay", "0s")
	v.SetDefault("watch.run_immediately", true)
	v.SetDefault("watch.advisory_lock_key", int64(0x72657370))
	v.SetDefault("watch.metrics_addr", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.reproducibility_tolerance_mm", 1.0)
	v.SetDefault("alerting.stability_tolerance_mm", 0.5)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"analysis.sampling_period":              c.Analysis.SamplingPeriod,
		"analysis.min_beam_duration":            c.Analysis.MinBeamDuration,
		"analysis.unit_scale":                   c.Analysis.UnitScale,
		"alerting.reproducibility_tolerance_mm": c.Alerting.ReproducibilityToleranceMM,
		"alerting.stability_tolerance_mm":       c.Alerting.StabilityToleranceMM,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number", name)
		}
	}
	if c.Analysis.SamplingPeriod <= 0 {
		return fmt.Errorf("analysis.sampling_period must be greater than zero")
	}
	if c.Analysis.MinBeamDuration <= 0 {
		return fmt.Errorf("analysis.min_beam_duration must be greater than zero")
	}
	if c.Analysis.UnitScale <= 0 {
		return fmt.Errorf("analysis.unit_scale must be greater than zero")
	}
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be greater than zero")
	}
	if _, err := pipeline.ParseIsolation(c.Analysis.FailureIsolation); err != nil {
		return fmt.Errorf("analysis.failure_isolation: %w", err)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	if c.Alerting.ReproducibilityToleranceMM < 0 || c.Alerting.StabilityToleranceMM < 0 {
		return fmt.Errorf("alerting tolerances cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// PipelineOptions translates the analysis section for the pipeline.
func (c *Config) PipelineOptions() pipeline.Options {
	isolation, _ := pipeline.ParseIsolation(c.Analysis.FailureIsolation)
	return pipeline.Options{
		UnitScale:       c.Analysis.UnitScale,
		MinBeamDuration: c.Analysis.MinBeamDuration,
		SamplingPeriod:  c.Analysis.SamplingPeriod,
		Workers:         c.Analysis.Workers,
		Isolation:       isolation,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
