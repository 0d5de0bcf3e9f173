package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	JWT       JWTConfig       `koanf:"jwt"`
	WhatsApp  WhatsAppConfig  `koanf:"whatsapp"`
	Campaigns CampaignsConfig `koanf:"campaigns"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

type ServerConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	ReadTimeout    int    `koanf:"read_timeout"`
	WriteTimeout   int    `koanf:"write_timeout"`
	AllowedOrigins string `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type JWTConfig struct {
	Secret           string `koanf:"secret"`
	AccessExpiryMins int    `koanf:"access_expiry_mins"`
}

type WhatsAppConfig struct {
	AppID              string `koanf:"app_id"`
	AppSecret          string `koanf:"app_secret"`
	ParentBusinessID   string `koanf:"parent_business_id"`
	OnboardingConfigID string `koanf:"onboarding_config_id"`
	WebhookVerifyToken string `koanf:"webhook_verify_token"`
	APIVersion         string `koanf:"api_version"`
	BaseURL            string `koanf:"base_url"` // Meta Graph API base URL
}

// CampaignsConfig tunes the campaign execution engine.
type CampaignsConfig struct {
	BatchSize               int     `koanf:"batch_size"`
	BatchStaggerSeconds     int     `koanf:"batch_stagger_seconds"`
	InterMessagePauseMs     int     `koanf:"inter_message_pause_ms"`
	WorkerConcurrency       int     `koanf:"worker_concurrency"`
	MaxJobsPerSecond        int     `koanf:"max_jobs_per_second"`
	MaxRecipients           int     `koanf:"max_recipients"`
	MaxConsecutiveFailures  int     `koanf:"max_consecutive_failures"`
	FailureRateThreshold    float64 `koanf:"failure_rate_threshold"`
	FailureRateMinSample    int     `koanf:"failure_rate_min_sample"`
	LockTTLHours            int     `koanf:"lock_ttl_hours"`
	StaleProcessingMins     int     `koanf:"stale_processing_mins"`
	CompletionCheckGraceSec int     `koanf:"completion_check_grace_sec"`
}

type RateLimitConfig struct {
	PerSecond int `koanf:"per_second"`
	PerMinute int `koanf:"per_minute"`
	// Plan daily caps; monthly caps are 30x daily unless overridden.
	FreeDaily       int `koanf:"free_daily"`
	BasicDaily      int `koanf:"basic_daily"`
	PremiumDaily    int `koanf:"premium_daily"`
	RouterCacheSecs int `koanf:"router_cache_secs"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// Load from environment variables (WAVELINE_ prefix)
	// e.g., WAVELINE_DATABASE_HOST -> database.host
	if err := k.Load(env.Provider("WAVELINE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "WAVELINE_")), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "Waveline"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessExpiryMins == 0 {
		cfg.JWT.AccessExpiryMins = 15
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v21.0"
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Campaigns.BatchSize == 0 {
		cfg.Campaigns.BatchSize = 50
	}
	if cfg.Campaigns.BatchStaggerSeconds == 0 {
		cfg.Campaigns.BatchStaggerSeconds = 2
	}
	if cfg.Campaigns.InterMessagePauseMs == 0 {
		cfg.Campaigns.InterMessagePauseMs = 50
	}
	if cfg.Campaigns.WorkerConcurrency == 0 {
		cfg.Campaigns.WorkerConcurrency = 5
	}
	if cfg.Campaigns.MaxJobsPerSecond == 0 {
		cfg.Campaigns.MaxJobsPerSecond = 10
	}
	if cfg.Campaigns.MaxRecipients == 0 {
		cfg.Campaigns.MaxRecipients = 1000000
	}
	if cfg.Campaigns.MaxConsecutiveFailures == 0 {
		cfg.Campaigns.MaxConsecutiveFailures = 10
	}
	if cfg.Campaigns.FailureRateThreshold == 0 {
		cfg.Campaigns.FailureRateThreshold = 0.30
	}
	if cfg.Campaigns.FailureRateMinSample == 0 {
		cfg.Campaigns.FailureRateMinSample = 50
	}
	if cfg.Campaigns.LockTTLHours == 0 {
		cfg.Campaigns.LockTTLHours = 24
	}
	if cfg.Campaigns.StaleProcessingMins == 0 {
		cfg.Campaigns.StaleProcessingMins = 10
	}
	if cfg.Campaigns.CompletionCheckGraceSec == 0 {
		cfg.Campaigns.CompletionCheckGraceSec = 30
	}
	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 50
	}
	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = 1000
	}
	if cfg.RateLimit.FreeDaily == 0 {
		cfg.RateLimit.FreeDaily = 1000
	}
	if cfg.RateLimit.BasicDaily == 0 {
		cfg.RateLimit.BasicDaily = 10000
	}
	if cfg.RateLimit.PremiumDaily == 0 {
		cfg.RateLimit.PremiumDaily = 100000
	}
	if cfg.RateLimit.RouterCacheSecs == 0 {
		cfg.RateLimit.RouterCacheSecs = 60
	}
}
