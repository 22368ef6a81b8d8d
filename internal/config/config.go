package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig
	ClickHouse  ClickHouseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	ThreatIntel ThreatIntelConfig
	Feeds       FeedsConfig
	Sandbox     SandboxConfig
	Network     NetworkConfig
	Pipeline    PipelineConfig
	JWT         JWTConfig
	Telemetry   TelemetryConfig
}

type AppConfig struct {
	Env  string
	Port int
	Host string
}

type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for the Redis server
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ThreatIntelConfig struct {
	VirusTotalKey   string
	SafeBrowsingKey string
	PhishTankKey    string
	URLVoidKey      string
	URLhausKey      string
	// Feed-backed sources need no key
	SourceTimeout   time.Duration
	RateLimitPerMin int
	CacheTTL        time.Duration
}

type FeedsConfig struct {
	OpenPhishURL      string
	MalwareDomainsURL string
	Schedule          string
}

type SandboxConfig struct {
	Enabled        bool
	MaxConcurrent  int
	Timeout        time.Duration
	Screenshots    bool
	BrowserPath    string
	ScreenshotsDir string
}

type NetworkConfig struct {
	Enabled       bool
	LookupTimeout time.Duration
	RDAPBaseURL   string
}

type PipelineConfig struct {
	EarlyExitThreshold float64
	Timeout            time.Duration
	BatchConcurrency   int
	EnableML           bool
	WeightThreatIntel  float64
	WeightSandbox      float64
	WeightNetwork      float64
	WeightAuxModel     float64
}

type JWTConfig struct {
	Secret string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/phishshield")

	// Environment variables
	viper.AutomaticEnv()

	bindEnvVars()
	setDefaults()

	// Try to read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Env:  viper.GetString("APP_ENV"),
			Port: viper.GetInt("APP_PORT"),
			Host: viper.GetString("APP_HOST"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  viper.GetBool("CLICKHOUSE_ENABLED"),
			Host:     viper.GetString("CLICKHOUSE_HOST"),
			Port:     viper.GetInt("CLICKHOUSE_PORT"),
			User:     viper.GetString("CLICKHOUSE_USER"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
			Database: viper.GetString("CLICKHOUSE_DATABASE"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("REDIS_ENABLED"),
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
			Topic:   viper.GetString("KAFKA_VERDICT_TOPIC"),
		},
		ThreatIntel: ThreatIntelConfig{
			VirusTotalKey:   viper.GetString("VIRUSTOTAL_API_KEY"),
			SafeBrowsingKey: viper.GetString("GOOGLE_SAFE_BROWSING_KEY"),
			PhishTankKey:    viper.GetString("PHISHTANK_API_KEY"),
			URLVoidKey:      viper.GetString("URLVOID_API_KEY"),
			URLhausKey:      viper.GetString("URLHAUS_API_KEY"),
			SourceTimeout:   viper.GetDuration("THREAT_SOURCE_TIMEOUT"),
			RateLimitPerMin: viper.GetInt("THREAT_SOURCE_RATE_LIMIT"),
			CacheTTL:        viper.GetDuration("THREAT_CACHE_TTL"),
		},
		Feeds: FeedsConfig{
			OpenPhishURL:      viper.GetString("OPENPHISH_FEED_URL"),
			MalwareDomainsURL: viper.GetString("MALWARE_DOMAINS_FEED_URL"),
			Schedule:          viper.GetString("FEEDS_SCHEDULE"),
		},
		Sandbox: SandboxConfig{
			Enabled:        viper.GetBool("ENABLE_SANDBOX"),
			MaxConcurrent:  viper.GetInt("SANDBOX_MAX_CONCURRENT"),
			Timeout:        viper.GetDuration("SANDBOX_TIMEOUT"),
			Screenshots:    viper.GetBool("SANDBOX_SCREENSHOTS"),
			BrowserPath:    viper.GetString("SANDBOX_BROWSER_PATH"),
			ScreenshotsDir: viper.GetString("SANDBOX_SCREENSHOTS_DIR"),
		},
		Network: NetworkConfig{
			Enabled:       viper.GetBool("ENABLE_NETWORK_ANALYSIS"),
			LookupTimeout: viper.GetDuration("NETWORK_LOOKUP_TIMEOUT"),
			RDAPBaseURL:   viper.GetString("RDAP_BASE_URL"),
		},
		Pipeline: PipelineConfig{
			EarlyExitThreshold: viper.GetFloat64("EARLY_EXIT_THRESHOLD"),
			Timeout:            viper.GetDuration("PIPELINE_TIMEOUT"),
			BatchConcurrency:   viper.GetInt("BATCH_CONCURRENCY"),
			EnableML:           viper.GetBool("ENABLE_ML_ANALYSIS"),
			WeightThreatIntel:  viper.GetFloat64("FUSION_WEIGHT_THREAT_INTEL"),
			WeightSandbox:      viper.GetFloat64("FUSION_WEIGHT_SANDBOX"),
			WeightNetwork:      viper.GetFloat64("FUSION_WEIGHT_NETWORK"),
			WeightAuxModel:     viper.GetFloat64("FUSION_WEIGHT_ML"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  viper.GetString("OTEL_SERVICE_NAME"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks invariants that would otherwise surface as wrong verdicts
func (c *Config) Validate() error {
	p := c.Pipeline
	sum := p.WeightThreatIntel + p.WeightSandbox + p.WeightNetwork + p.WeightAuxModel
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.4f", sum)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return errors.New("SANDBOX_MAX_CONCURRENT must be at least 1")
	}
	if c.Sandbox.Timeout <= 0 {
		return errors.New("SANDBOX_TIMEOUT must be positive")
	}
	if c.ThreatIntel.CacheTTL <= 0 {
		return errors.New("THREAT_CACHE_TTL must be positive")
	}
	if p.EarlyExitThreshold < 0 || p.EarlyExitThreshold > 1 {
		return fmt.Errorf("EARLY_EXIT_THRESHOLD must be within [0,1], got %.2f", p.EarlyExitThreshold)
	}
	return nil
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")

	// ClickHouse
	viper.BindEnv("CLICKHOUSE_ENABLED")
	viper.BindEnv("CLICKHOUSE_HOST")
	viper.BindEnv("CLICKHOUSE_PORT")
	viper.BindEnv("CLICKHOUSE_USER")
	viper.BindEnv("CLICKHOUSE_PASSWORD")
	viper.BindEnv("CLICKHOUSE_DATABASE")

	// Redis
	viper.BindEnv("REDIS_ENABLED")
	viper.BindEnv("REDIS_HOST")
	viper.BindEnv("REDIS_PORT")
	viper.BindEnv("REDIS_PASSWORD")
	viper.BindEnv("REDIS_DB")

	// Kafka
	viper.BindEnv("KAFKA_BROKERS")
	viper.BindEnv("KAFKA_VERDICT_TOPIC")

	// Threat Intel sources
	viper.BindEnv("VIRUSTOTAL_API_KEY")
	viper.BindEnv("GOOGLE_SAFE_BROWSING_KEY")
	viper.BindEnv("PHISHTANK_API_KEY")
	viper.BindEnv("URLVOID_API_KEY")
	viper.BindEnv("URLHAUS_API_KEY")
	viper.BindEnv("THREAT_SOURCE_TIMEOUT")
	viper.BindEnv("THREAT_SOURCE_RATE_LIMIT")
	viper.BindEnv("THREAT_CACHE_TTL")

	// Feeds
	viper.BindEnv("OPENPHISH_FEED_URL")
	viper.BindEnv("MALWARE_DOMAINS_FEED_URL")
	viper.BindEnv("FEEDS_SCHEDULE")

	// Sandbox
	viper.BindEnv("ENABLE_SANDBOX")
	viper.BindEnv("SANDBOX_MAX_CONCURRENT")
	viper.BindEnv("SANDBOX_TIMEOUT")
	viper.BindEnv("SANDBOX_SCREENSHOTS")
	viper.BindEnv("SANDBOX_BROWSER_PATH")
	viper.BindEnv("SANDBOX_SCREENSHOTS_DIR")

	// Network analysis
	viper.BindEnv("ENABLE_NETWORK_ANALYSIS")
	viper.BindEnv("NETWORK_LOOKUP_TIMEOUT")
	viper.BindEnv("RDAP_BASE_URL")

	// Pipeline
	viper.BindEnv("EARLY_EXIT_THRESHOLD")
	viper.BindEnv("PIPELINE_TIMEOUT")
	viper.BindEnv("BATCH_CONCURRENCY")
	viper.BindEnv("ENABLE_ML_ANALYSIS")
	viper.BindEnv("FUSION_WEIGHT_THREAT_INTEL")
	viper.BindEnv("FUSION_WEIGHT_SANDBOX")
	viper.BindEnv("FUSION_WEIGHT_NETWORK")
	viper.BindEnv("FUSION_WEIGHT_ML")

	// JWT
	viper.BindEnv("JWT_SECRET")

	// Telemetry
	viper.BindEnv("OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("OTEL_SERVICE_NAME")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_HOST", "0.0.0.0")

	// ClickHouse defaults
	viper.SetDefault("CLICKHOUSE_ENABLED", false)
	viper.SetDefault("CLICKHOUSE_HOST", "localhost")
	viper.SetDefault("CLICKHOUSE_PORT", 9000)
	viper.SetDefault("CLICKHOUSE_USER", "phishshield")
	viper.SetDefault("CLICKHOUSE_DATABASE", "phishshield")

	// Redis defaults
	viper.SetDefault("REDIS_ENABLED", false)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_DB", 0)

	// Kafka defaults
	viper.SetDefault("KAFKA_VERDICT_TOPIC", "phishshield.verdicts")

	// Threat Intel defaults
	viper.SetDefault("THREAT_SOURCE_TIMEOUT", 10*time.Second)
	viper.SetDefault("THREAT_SOURCE_RATE_LIMIT", 240)
	viper.SetDefault("THREAT_CACHE_TTL", time.Hour)

	// Feed defaults
	viper.SetDefault("OPENPHISH_FEED_URL", "https://openphish.com/feed.txt")
	viper.SetDefault("MALWARE_DOMAINS_FEED_URL", "https://urlhaus.abuse.ch/downloads/hostfile/")
	viper.SetDefault("FEEDS_SCHEDULE", "@every 1h")

	// Sandbox defaults
	viper.SetDefault("ENABLE_SANDBOX", true)
	viper.SetDefault("SANDBOX_MAX_CONCURRENT", 10)
	viper.SetDefault("SANDBOX_TIMEOUT", 30*time.Second)
	viper.SetDefault("SANDBOX_SCREENSHOTS", true)
	viper.SetDefault("SANDBOX_SCREENSHOTS_DIR", "/tmp/phishshield/screenshots")

	// Network defaults
	viper.SetDefault("ENABLE_NETWORK_ANALYSIS", true)
	viper.SetDefault("NETWORK_LOOKUP_TIMEOUT", 5*time.Second)
	viper.SetDefault("RDAP_BASE_URL", "https://rdap.org")

	// Pipeline defaults
	viper.SetDefault("EARLY_EXIT_THRESHOLD", 0.8)
	viper.SetDefault("PIPELINE_TIMEOUT", 90*time.Second)
	viper.SetDefault("BATCH_CONCURRENCY", 5)
	viper.SetDefault("ENABLE_ML_ANALYSIS", true)
	viper.SetDefault("FUSION_WEIGHT_THREAT_INTEL", 0.35)
	viper.SetDefault("FUSION_WEIGHT_SANDBOX", 0.25)
	viper.SetDefault("FUSION_WEIGHT_NETWORK", 0.20)
	viper.SetDefault("FUSION_WEIGHT_ML", 0.20)

	// Telemetry defaults
	viper.SetDefault("OTEL_SERVICE_NAME", "phishshield")
}

// splitList parses a comma separated env value, dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
