package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	MaxConns int32  `yaml:"max_conns"`
	// 慢查询阈值，0 表示使用默认值 100ms
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// AnalyticsConfig 统计与建议相关配置
type AnalyticsConfig struct {
	WeeklyGoalHours float64       `yaml:"weekly_goal_hours"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	Timezone        string        `yaml:"timezone"`
}

// WorkerConfig outbox 分发与消费者配置
type WorkerConfig struct {
	OutboxInterval   time.Duration `yaml:"outbox_interval"`
	OutboxMaxRetries int           `yaml:"outbox_max_retries"`
	OutboxBatchSize  int           `yaml:"outbox_batch_size"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`

	// 发布熔断：连续失败 BreakerThreshold 次后暂停 BreakerTimeout
	BreakerThreshold int           `yaml:"outbox_breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"outbox_breaker_timeout"`
}

// Config 服务完整配置
type Config struct {
	ServiceName string          `yaml:"service_name"`
	DB          DBConfig        `yaml:"db"`
	MQ          MQConfig        `yaml:"mq"`
	Redis       RedisConfig     `yaml:"redis"`
	JWT         JWTConfig       `yaml:"jwt"`
	Server      ServerConfig    `yaml:"server"`
	Otel        OtelConfig      `yaml:"otel"`
	Analytics   AnalyticsConfig `yaml:"analytics"`
	Worker      WorkerConfig    `yaml:"worker"`
}

// Load 按环境加载配置并解码为 Config，环境变量优先级最高
func Load(env string, configDir string) (*Config, error) {
	merged, err := LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	// map -> yaml -> struct，复用 yaml tag
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	OverrideDBFromEnv(&cfg.DB)
	OverrideMQFromEnv(&cfg.MQ)
	OverrideRedisFromEnv(&cfg.Redis)
	OverrideJWTFromEnv(&cfg.JWT)
	OverrideServerFromEnv(&cfg.Server)
	OverrideAnalyticsFromEnv(&cfg.Analytics)

	return cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		ServiceName: "timetrack",
		DB: DBConfig{
			Host:     "localhost",
			Port:     5432,
			MaxConns: 10,
		},
		Server: ServerConfig{Port: ":8080"},
		Analytics: AnalyticsConfig{
			WeeklyGoalHours: 40,
			CacheTTL:        5 * time.Minute,
			Timezone:        "UTC",
		},
		Worker: WorkerConfig{
			OutboxInterval:   time.Second,
			OutboxMaxRetries: 5,
			OutboxBatchSize:  100,
			DedupTTL:         time.Hour,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
	}
}

// Location 返回统计所用时区，无法解析时回退到 UTC
func (c AnalyticsConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideAnalyticsFromEnv 从环境变量覆盖统计配置
func OverrideAnalyticsFromEnv(cfg *AnalyticsConfig) {
	if goal := os.Getenv("WEEKLY_GOAL_HOURS"); goal != "" {
		if g, err := strconv.ParseFloat(goal, 64); err == nil && g > 0 {
			cfg.WeeklyGoalHours = g
		}
	}
	if ttl := os.Getenv("ANALYTICS_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.CacheTTL = d
		}
	}
	if tz := os.Getenv("ANALYTICS_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
}
