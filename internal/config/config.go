package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabasePath   string   `mapstructure:"database_path"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AuthMode       string   `mapstructure:"auth_mode"` // disabled | optional | required

	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"` // Graceful shutdown wait
	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = use server default

	// Tracing (empty endpoint disables export)
	OTLPEndpoint        string  `mapstructure:"otlp_endpoint"`
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`

	// Ingest
	IngestWorkers    int     `mapstructure:"ingest_workers"`      // parallel validation workers
	IngestQueueSize  int     `mapstructure:"ingest_queue_size"`   // bounded handoff queue
	IngestRatePerSec float64 `mapstructure:"ingest_rate_per_sec"` // token bucket rate per client (req/s); 0 = no limit
	IngestRateBurst  int     `mapstructure:"ingest_rate_burst"`   // token bucket burst per client; 0 = no limit

	// Window aggregation
	WindowSizes      []string `mapstructure:"window_sizes"`       // parallel tumbling tracks
	GracePeriodSec   int      `mapstructure:"grace_period_sec"`   // late-arrival grace before sealing
	RetentionHours   int      `mapstructure:"retention_hours"`    // sealed aggregate retention horizon
	SweepIntervalSec int      `mapstructure:"sweep_interval_sec"` // 0 = derive from smallest window

	// Anomaly detection
	AnomalySensitivity float64 `mapstructure:"anomaly_sensitivity"` // sigma multiplier for the threshold
	AnomalyMinPoints   int     `mapstructure:"anomaly_min_points"`  // cold-start guard
	AnomalyBufferSize  int     `mapstructure:"anomaly_buffer_size"` // ring buffer cap per key

	// Correlation
	CorrelationWindowSec int     `mapstructure:"correlation_window_sec"`
	CorrelationJoin      float64 `mapstructure:"correlation_join_threshold"`     // pair score must exceed this to join
	CorrelationEscalate  float64 `mapstructure:"correlation_escalate_threshold"` // pair scores counting toward escalation

	// Forecasting
	ForecastMinPoints       int     `mapstructure:"forecast_min_points"`
	ForecastRetrainHours    int     `mapstructure:"forecast_retrain_hours"`
	ForecastPredictEverySec int     `mapstructure:"forecast_predict_every_sec"`
	ForecastConfidenceFloor float64 `mapstructure:"forecast_confidence_floor"`
	ForecastAlertConfidence float64 `mapstructure:"forecast_alert_confidence"` // escalation gate for predictive alerts

	// Broadcast hub
	ClientQueueSize     int `mapstructure:"client_queue_size"`     // per-session outbound buffer
	HeartbeatTimeoutSec int `mapstructure:"heartbeat_timeout_sec"` // silent connections beyond this are closed
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/sams/")
	viper.AddConfigPath("$HOME/.sams")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./sams.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("auth_mode", "disabled")
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("tracing_sampling_rate", 0.1)

	viper.SetDefault("ingest_workers", 4)
	viper.SetDefault("ingest_queue_size", 4096)
	viper.SetDefault("ingest_rate_per_sec", 0) // 0 = disabled
	viper.SetDefault("ingest_rate_burst", 0)

	viper.SetDefault("window_sizes", []string{"1m", "5m", "15m", "1h"})
	viper.SetDefault("grace_period_sec", 30)
	viper.SetDefault("retention_hours", 168) // 7 days
	viper.SetDefault("sweep_interval_sec", 0)

	viper.SetDefault("anomaly_sensitivity", 2.0)
	viper.SetDefault("anomaly_min_points", 10)
	viper.SetDefault("anomaly_buffer_size", 1000)

	viper.SetDefault("correlation_window_sec", 300)
	viper.SetDefault("correlation_join_threshold", 0.6)
	viper.SetDefault("correlation_escalate_threshold", 0.8)

	viper.SetDefault("forecast_min_points", 20)
	viper.SetDefault("forecast_retrain_hours", 24)
	viper.SetDefault("forecast_predict_every_sec", 3600)
	viper.SetDefault("forecast_confidence_floor", 0.3)
	viper.SetDefault("forecast_alert_confidence", 0.7)

	viper.SetDefault("client_queue_size", 256)
	viper.SetDefault("heartbeat_timeout_sec", 60)

	// Environment variables
	viper.SetEnvPrefix("SAMS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Windows parses the configured window sizes, dropping unparseable entries.
// Falls back to 1m so the aggregator always has at least one track.
func (c *Config) Windows() []time.Duration {
	var out []time.Duration
	for _, s := range c.WindowSizes {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		out = []time.Duration{time.Minute}
	}
	return out
}

// GracePeriod returns the late-arrival grace as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSec) * time.Second
}

// Retention returns the sealed-aggregate retention horizon.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// CorrelationWindow returns the sliding correlation window.
func (c *Config) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowSec) * time.Second
}
