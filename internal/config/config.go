// Package config loads the execution engine's startup configuration from a
// YAML file with environment variable overrides, mirroring the layered
// approach used elsewhere in this codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the execution engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Routing       RoutingConfig       `yaml:"routing"`
	Venues        []VenueConfig       `yaml:"venues"`
	Algorithms    AlgorithmsConfig    `yaml:"algorithms"`
	Safety        SafetyConfig        `yaml:"safety"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Redis         RedisConfig         `yaml:"redis"`
	JWT           JWTConfig           `yaml:"jwt"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the admin/submit HTTP surface.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RoutingConfig configures the SmartOrderRouter.
type RoutingConfig struct {
	MaxVenuesPerOrder   int           `yaml:"max_venues_per_order"`
	MinFillSize         string        `yaml:"min_fill_size"`
	MaxLatencyMs        int64         `yaml:"max_latency_ms"`
	MaxSlippageBps      int           `yaml:"max_slippage_bps"`
	MinDepthFraction    float64       `yaml:"min_depth_fraction"` // below this fraction of requested qty, InsufficientLiquidity
	MinReliability      float64       `yaml:"min_reliability"`    // below this, an allocated venue is swapped for a fallback
	Objective           string        `yaml:"objective"`          // cost|speed|size|balanced: which candidate-set sub-score is weighted 0.4
	DecisionCacheTTL    time.Duration `yaml:"decision_cache_ttl"`
	DecisionCacheSize   int           `yaml:"decision_cache_size"`
	RebalanceInterval   time.Duration `yaml:"rebalance_interval"`
}

// VenueConfig describes one statically configured venue.
type VenueConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Symbols      []string `yaml:"symbols"`
	MakerFeeBps  float64  `yaml:"maker_fee_bps"`
	TakerFeeBps  float64  `yaml:"taker_fee_bps"`
	RateLimitRPS int      `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

// AlgorithmsConfig configures the execution algorithm pool.
type AlgorithmsConfig struct {
	TWAP    TWAPConfig    `yaml:"twap"`
	VWAP    VWAPConfig    `yaml:"vwap"`
	POV     POVConfig     `yaml:"pov"`
	Iceberg IcebergConfig `yaml:"iceberg"`
}

type TWAPConfig struct {
	DefaultSlices    int           `yaml:"default_slices"`
	DefaultHorizon   time.Duration `yaml:"default_horizon"`
	RandomizeTiming  bool          `yaml:"randomize_timing"`
}

type VWAPConfig struct {
	BucketCount       int     `yaml:"bucket_count"`
	ParticipationRate float64 `yaml:"participation_rate"`
}

type POVConfig struct {
	TargetParticipationRate float64 `yaml:"target_participation_rate"`
	MinClipSize             string  `yaml:"min_clip_size"`
}

type IcebergConfig struct {
	DefaultVisibleFraction float64 `yaml:"default_visible_fraction"`
	VarianceFraction       float64 `yaml:"variance_fraction"`
	MaxDetectionRisk       float64 `yaml:"max_detection_risk"`
}

// SafetyConfig configures the SafetyGate's starting mode and limits.
type SafetyConfig struct {
	InitialMode        string  `yaml:"initial_mode"` // live | simulation | paused
	MaxOrderNotional    string  `yaml:"max_order_notional"`
	EmergencyStopOnMEV bool    `yaml:"emergency_stop_on_mev"`
}

// TelemetryConfig configures alert thresholds.
type TelemetryConfig struct {
	SlippageAlertBps     int           `yaml:"slippage_alert_bps"`
	ExecutionTimeAlert   time.Duration `yaml:"execution_time_alert"`
	CostAlertBps         int           `yaml:"cost_alert_bps"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Load reads the YAML configuration at path (if non-empty and present)
// and then applies environment variable overrides on top, matching this
// codebase's layered configuration convention.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Routing: RoutingConfig{
			MaxVenuesPerOrder: 5,
			MinFillSize:       "0.0001",
			MaxLatencyMs:      2000,
			MaxSlippageBps:    50,
			MinDepthFraction:  0.8,
			MinReliability:    0.5,
			Objective:         "balanced",
			DecisionCacheTTL:  5 * time.Second,
			DecisionCacheSize: 1000,
			RebalanceInterval: 30 * time.Second,
		},
		Algorithms: AlgorithmsConfig{
			TWAP: TWAPConfig{DefaultSlices: 10, DefaultHorizon: 10 * time.Minute, RandomizeTiming: true},
			VWAP: VWAPConfig{BucketCount: 12, ParticipationRate: 0.1},
			POV:  POVConfig{TargetParticipationRate: 0.1, MinClipSize: "0.001"},
			Iceberg: IcebergConfig{
				DefaultVisibleFraction: 0.1,
				VarianceFraction:       0.2,
				MaxDetectionRisk:       0.7,
			},
		},
		Safety: SafetyConfig{
			InitialMode:        getEnv("SAFETY_MODE", "simulation"),
			MaxOrderNotional:   "1000000",
			EmergencyStopOnMEV: true,
		},
		Telemetry: TelemetryConfig{
			SlippageAlertBps:   50,
			ExecutionTimeAlert: time.Second,
			CostAlertBps:       100,
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			Enabled: getEnv("REDIS_URL", "") != "",
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Expiry: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "execd"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "json"),
		},
	}
}

// applyEnvOverrides lets a handful of operational knobs be bent without
// touching the YAML file, matching the rest of the codebase's pattern of
// env-first configuration for anything operators reach for in a hurry.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Safety.InitialMode = getEnv("SAFETY_MODE", cfg.Safety.InitialMode)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Enabled = cfg.Redis.URL != ""
	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.Observability.LogLevel = getEnv("LOG_LEVEL", cfg.Observability.LogLevel)
	if v := getIntEnv("ROUTING_MAX_VENUES", 0); v > 0 {
		cfg.Routing.MaxVenuesPerOrder = v
	}
}

func (c *Config) validate() error {
	switch c.Safety.InitialMode {
	case "live", "simulation", "paused":
	default:
		return fmt.Errorf("safety.initial_mode must be live, simulation, or paused, got %q", c.Safety.InitialMode)
	}
	if c.Routing.MaxVenuesPerOrder <= 0 {
		return fmt.Errorf("routing.max_venues_per_order must be positive")
	}
	if c.JWT.Secret == "" && c.Safety.InitialMode == "live" {
		return fmt.Errorf("jwt.secret is required when safety.initial_mode is live")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
