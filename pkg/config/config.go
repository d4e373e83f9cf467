// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 基础配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	// 账本客户端配置
	Ledger LedgerConfig `mapstructure:"ledger"`
	// 贷款案件引擎配置
	Lending LendingConfig `mapstructure:"lending"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql 或 memory（内存仓储，仅用于开发与测试）
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动迁移表结构
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表，为空时事件只写日志
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Prometheus 监听端口
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 每秒请求数
	QPS int `mapstructure:"qps"`
	// 突发容量
	Burst int `mapstructure:"burst"`
}

// LedgerConfig 账本客户端配置
type LedgerConfig struct {
	// 驱动：memory 或 http
	Driver string `mapstructure:"driver"`
	// 账本服务地址
	BaseURL string `mapstructure:"base_url"`
	// 单次请求超时
	Timeout time.Duration `mapstructure:"timeout"`
	// 传输层失败重试次数（同一幂等键）
	RetryCount int `mapstructure:"retry_count"`
	// 连续失败多少次后熔断
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
	// 熔断打开后多久进入半开
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// LendingConfig 案件引擎配置
type LendingConfig struct {
	// 单案件互斥锁：local 或 redis
	LockBackend string `mapstructure:"lock_backend"`
	// 分布式锁过期时间
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// 加锁失败后的重试间隔
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`
	// 账本提交的最长等待，不受调用方取消影响
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
	// 状态变更事件主题
	EventTopic string `mapstructure:"event_topic"`
	// 通过 outbox 表中转事件
	OutboxEnabled bool `mapstructure:"outbox_enabled"`
	// outbox 轮询间隔
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
	// 每次中转的最大条数
	OutboxBatchSize int `mapstructure:"outbox_batch_size"`
	// 已发送 outbox 记录的保留时长
	OutboxRetention time.Duration `mapstructure:"outbox_retention"`
	// 产品读缓存有效期，0 表示不缓存
	ProductCacheTTL time.Duration `mapstructure:"product_cache_ttl"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return unmarshal(v)
}

// LoadWithDefaults 从 TOML 文件加载配置，文件不存在时只使用默认值与环境变量
func LoadWithDefaults(configPath string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	// 读取配置文件（如果不存在则忽略）
	_ = v.ReadInConfig()

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// 设置环境变量前缀，APP_LEDGER_BASE_URL 覆盖 ledger.base_url
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	switch c.Ledger.Driver {
	case "memory":
	case "http":
		if c.Ledger.BaseURL == "" {
			return fmt.Errorf("ledger.base_url is required for http driver")
		}
	default:
		return fmt.Errorf("unsupported ledger driver: %q", c.Ledger.Driver)
	}
	if c.Lending.LockBackend != "local" && c.Lending.LockBackend != "redis" {
		return fmt.Errorf("unsupported lending.lock_backend: %q", c.Lending.LockBackend)
	}
	if c.Lending.CommitTimeout <= 0 {
		return fmt.Errorf("lending.commit_timeout must be positive")
	}
	if c.Lending.OutboxEnabled && c.Database.Driver != "mysql" {
		return fmt.Errorf("lending.outbox_enabled requires the mysql database driver")
	}
	if c.RateLimit.Enabled && c.RateLimit.QPS <= 0 {
		return fmt.Errorf("ratelimit.qps must be positive when enabled")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "lending")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/lending.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.qps", 100)
	v.SetDefault("ratelimit.burst", 200)

	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.timeout", "5s")
	v.SetDefault("ledger.retry_count", 2)
	v.SetDefault("ledger.breaker_failures", 5)
	v.SetDefault("ledger.breaker_open_timeout", "30s")

	v.SetDefault("lending.lock_backend", "local")
	v.SetDefault("lending.lock_ttl", "10s")
	v.SetDefault("lending.lock_retry_delay", "50ms")
	v.SetDefault("lending.commit_timeout", "15s")
	v.SetDefault("lending.event_topic", "lending.case.events")
	v.SetDefault("lending.outbox_enabled", false)
	v.SetDefault("lending.outbox_interval", "1s")
	v.SetDefault("lending.outbox_batch_size", 100)
	v.SetDefault("lending.outbox_retention", "168h")
	v.SetDefault("lending.product_cache_ttl", "1m")
}

// LoadDotEnv 把 .env 文件中的变量写入进程环境，已存在的环境变量不被覆盖。
// 未指定路径时读取当前目录的 .env，文件不存在不算错误。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
