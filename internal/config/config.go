package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"`
	MigrateOnly  bool   `mapstructure:"-"`
	ConfigFile   string `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	Charset      string
	ParseTime    bool
	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int `mapstructure:"pool_size"`
}

// LogConfig 日志输出；Level 为空时 debug 模式用 debug，其余用 info
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// EngineConfig 自适应学习引擎的可调参数
type EngineConfig struct {
	WeakThreshold       float64        `mapstructure:"weak_threshold"`
	RecoveryThreshold   float64        `mapstructure:"recovery_threshold"`
	MinSamples          int            `mapstructure:"min_samples"`
	WindowAttempts      int            `mapstructure:"window_attempts"`
	WindowAnswers       int            `mapstructure:"window_answers"`
	LadderDays          []int          `mapstructure:"ladder_days"`
	MaxSectionsPerEntry int            `mapstructure:"max_sections_per_entry"`
	MaxSpillDays        int            `mapstructure:"max_spill_days"`
	EntitlementCacheTTL int            `mapstructure:"entitlement_cache_ttl_seconds"`
	Quota               QuotaConfig    `mapstructure:"quota"`
	FollowUp            FollowUpConfig `mapstructure:"followup"`
}

type QuotaConfig struct {
	MockTestCap         int `mapstructure:"mock_test_cap"`
	PracticeQuestionCap int `mapstructure:"practice_question_cap"`
}

type FollowUpConfig struct {
	Workers       int    `mapstructure:"workers"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	QueueKey      string `mapstructure:"queue_key"`
	SweepInterval int    `mapstructure:"sweep_interval_seconds"`
}

// EntitlementCacheDuration 权益缓存时长
func (e EngineConfig) EntitlementCacheDuration() time.Duration {
	return time.Duration(e.EntitlementCacheTTL) * time.Second
}

// DefaultEngineConfig 默认引擎参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WeakThreshold:       0.6,
		RecoveryThreshold:   0.75,
		MinSamples:          5,
		WindowAttempts:      10,
		WindowAnswers:       50,
		LadderDays:          []int{1, 3, 7, 14, 30},
		MaxSectionsPerEntry: 3,
		MaxSpillDays:        30,
		EntitlementCacheTTL: 60,
		Quota: QuotaConfig{
			MockTestCap:         5,
			PracticeQuestionCap: 50,
		},
		FollowUp: FollowUpConfig{
			Workers:       4,
			MaxAttempts:   5,
			QueueKey:      "engine:followup",
			SweepInterval: 60,
		},
	}
}

// Validate 校验引擎参数，非法配置直接拒绝启动
func (e EngineConfig) Validate() error {
	if e.WeakThreshold <= 0 || e.WeakThreshold >= 1 {
		return fmt.Errorf("engine.weak_threshold must be in (0,1), got %v", e.WeakThreshold)
	}
	if e.RecoveryThreshold <= e.WeakThreshold || e.RecoveryThreshold > 1 {
		return fmt.Errorf("engine.recovery_threshold (%v) must be greater than weak_threshold (%v) and at most 1",
			e.RecoveryThreshold, e.WeakThreshold)
	}
	if e.MinSamples < 1 {
		return fmt.Errorf("engine.min_samples must be positive, got %d", e.MinSamples)
	}
	if e.WindowAttempts < 1 || e.WindowAnswers < 1 {
		return fmt.Errorf("engine window sizes must be positive")
	}
	if len(e.LadderDays) == 0 {
		return fmt.Errorf("engine.ladder_days must not be empty")
	}
	for i, d := range e.LadderDays {
		if d < 1 {
			return fmt.Errorf("engine.ladder_days[%d] must be at least 1 day, got %d", i, d)
		}
		if i > 0 && d <= e.LadderDays[i-1] {
			return fmt.Errorf("engine.ladder_days must be strictly increasing, got %v", e.LadderDays)
		}
	}
	if e.MaxSectionsPerEntry < 1 {
		return fmt.Errorf("engine.max_sections_per_entry must be positive")
	}
	if e.MaxSpillDays < 1 {
		return fmt.Errorf("engine.max_spill_days must be positive")
	}
	if e.Quota.MockTestCap < 1 || e.Quota.PracticeQuestionCap < 1 {
		return fmt.Errorf("engine quota caps must be positive")
	}
	if e.FollowUp.Workers < 1 || e.FollowUp.MaxAttempts < 1 {
		return fmt.Errorf("engine.followup workers and max_attempts must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultEngineConfig()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("log.file", "logs/engine.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("engine.weak_threshold", d.WeakThreshold)
	v.SetDefault("engine.recovery_threshold", d.RecoveryThreshold)
	v.SetDefault("engine.min_samples", d.MinSamples)
	v.SetDefault("engine.window_attempts", d.WindowAttempts)
	v.SetDefault("engine.window_answers", d.WindowAnswers)
	v.SetDefault("engine.ladder_days", d.LadderDays)
	v.SetDefault("engine.max_sections_per_entry", d.MaxSectionsPerEntry)
	v.SetDefault("engine.max_spill_days", d.MaxSpillDays)
	v.SetDefault("engine.entitlement_cache_ttl_seconds", d.EntitlementCacheTTL)
	v.SetDefault("engine.quota.mock_test_cap", d.Quota.MockTestCap)
	v.SetDefault("engine.quota.practice_question_cap", d.Quota.PracticeQuestionCap)
	v.SetDefault("engine.followup.workers", d.FollowUp.Workers)
	v.SetDefault("engine.followup.max_attempts", d.FollowUp.MaxAttempts)
	v.SetDefault("engine.followup.queue_key", d.FollowUp.QueueKey)
	v.SetDefault("engine.followup.sweep_interval_seconds", d.FollowUp.SweepInterval)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EXAM_PREP")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
