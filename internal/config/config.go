// Package config 提供了控制面板守护进程的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如管理密钥和密码）。
// 配置包含了服务器、部署连接、流轮询、任务轮询、存储、认证、日志、指标和遥测等多个方面的设置。
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Server 服务器配置，包括 HTTP 端口和指标端口
	Server ServerConfig `yaml:"server"`
	// Deployment 远端部署连接配置，包括地址和管理密钥
	Deployment DeploymentConfig `yaml:"deployment"`
	// Stream 日志流轮询配置
	Stream StreamConfig `yaml:"stream"`
	// Jobs 定时任务轮询配置
	Jobs JobsConfig `yaml:"jobs"`
	// Auth 面板认证配置，包括 JWT 和 API Key 相关设置
	Auth AuthConfig `yaml:"auth"`
	// Storage 存储配置，包括 PostgreSQL 和 Redis 连接信息
	Storage StorageConfig `yaml:"storage"`
	// Events 事件配置，包括 NATS 消息队列连接信息
	Events EventsConfig `yaml:"events"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// MCP 模型上下文协议服务配置
	MCP MCPConfig `yaml:"mcp"`
}

// ServerConfig 服务器配置结构体。
// 定义了服务端口和超时设置。
type ServerConfig struct {
	// HTTPPort HTTP API 服务端口，用于面板 API 与 WebSocket 流
	// 默认值：8080
	HTTPPort int `yaml:"http_port"`
	// MetricsPort 指标服务端口，用于 Prometheus 指标暴露
	// 默认值：9090
	MetricsPort int `yaml:"metrics_port"`
	// ShutdownTimeout 优雅关闭超时时间
	// 默认值：30 秒
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DeploymentConfig 远端部署连接配置结构体。
// 地址或管理密钥缺失是合法的“尚未配置”状态，面板保持空闲而不报错。
type DeploymentConfig struct {
	// BaseURL 部署的 HTTP 地址，如 "http://localhost:3210"
	BaseURL string `yaml:"base_url"`
	// AdminKey 部署管理密钥，可通过环境变量 LUMEN_ADMIN_KEY 或
	// LUMEN_ADMIN_KEY_FILE（文件路径）覆盖
	AdminKey string `yaml:"admin_key"`
	// AdminKeyFile 管理密钥文件路径。设置后密钥从该文件读取，
	// 并通过文件系统监听实现热加载：文件变化时面板自动重连
	AdminKeyFile string `yaml:"admin_key_file"`
	// StateInterval 部署运行状态的刷新间隔
	// 默认值：5 秒
	StateInterval time.Duration `yaml:"state_interval"`
}

// Configured 报告部署连接是否已配置完整。
func (d *DeploymentConfig) Configured() bool {
	return d.BaseURL != "" && (d.AdminKey != "" || d.AdminKeyFile != "")
}

// StreamConfig 日志流轮询配置结构体。
type StreamConfig struct {
	// Interval 日志轮询间隔
	// 默认值：2 秒
	Interval time.Duration `yaml:"interval"`
	// PollTimeout 单次轮询超时，超时按瞬时失败处理
	// 默认值：一个轮询间隔
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// MaxEntries 内存缓冲区的条目上限，超出后淘汰最旧条目
	// 默认值：10000
	MaxEntries int `yaml:"max_entries"`
}

// JobsConfig 定时任务轮询配置结构体。
type JobsConfig struct {
	// Interval 任务快照轮询间隔
	// 默认值：2 秒
	Interval time.Duration `yaml:"interval"`
	// PageSize 每次快照取数的条目数
	// 默认值：50
	PageSize int `yaml:"page_size"`
}

// AuthConfig 面板认证配置结构体。
// 定义了 JWT 和 API Key 认证相关的设置。
type AuthConfig struct {
	// Enabled 是否启用面板认证
	Enabled bool `yaml:"enabled"`
	// JWTSecret JWT 签名密钥，可通过环境变量 LUMEN_AUTH_JWT_SECRET 或
	// LUMEN_AUTH_JWT_SECRET_FILE（文件路径）覆盖
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL 会话令牌有效期
	// 默认值：24 小时
	TokenTTL time.Duration `yaml:"token_ttl"`
	// APIKeys 静态 API Key 列表，用于非交互客户端（CLI、MCP）
	APIKeys []string `yaml:"api_keys"`
}

// StorageConfig 存储配置结构体。
// 包含 PostgreSQL 历史归档和 Redis 会话缓存的连接信息。
type StorageConfig struct {
	// History 是否启用日志历史归档（需要 PostgreSQL）
	History bool `yaml:"history"`
	// SweepSpec 留存清理的计划表达式（cron 语法或 @hourly 等描述符）
	// 默认值：@hourly
	SweepSpec string `yaml:"sweep_spec"`
	// Postgres PostgreSQL 数据库配置
	Postgres PostgresConfig `yaml:"postgres"`
	// Sessions 是否启用会话偏好存储（需要 Redis）
	Sessions bool `yaml:"sessions"`
	// Redis Redis 缓存配置
	Redis RedisConfig `yaml:"redis"`
}

// PostgresConfig PostgreSQL 数据库配置结构体。
// 定义了数据库连接的相关参数。
type PostgresConfig struct {
	// Host 数据库主机地址
	Host string `yaml:"host"`
	// Port 数据库端口号
	Port int `yaml:"port"`
	// Database 数据库名称
	Database string `yaml:"database"`
	// User 数据库用户名
	User string `yaml:"user"`
	// Password 数据库密码，可通过环境变量 LUMEN_POSTGRES_PASSWORD 或
	// LUMEN_POSTGRES_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// SSLMode 连接的 SSL 模式
	// 默认值：disable
	SSLMode string `yaml:"ssl_mode"`
}

// DSN 拼出 lib/pq 连接串。
func (p *PostgresConfig) DSN() string {
	parts := []string{
		"host=" + p.Host,
		"port=" + strconv.Itoa(p.Port),
		"dbname=" + p.Database,
		"user=" + p.User,
		"sslmode=" + p.SSLMode,
	}
	if p.Password != "" {
		parts = append(parts, "password="+p.Password)
	}
	return strings.Join(parts, " ")
}

// RedisConfig Redis 缓存配置结构体。
// 定义了 Redis 连接的相关参数。
type RedisConfig struct {
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 LUMEN_REDIS_PASSWORD 或
	// LUMEN_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
}

// EventsConfig 事件配置结构体。
// 配置后面板额外订阅 NATS 主题作为日志的实时旁路源。
type EventsConfig struct {
	// NatsURL NATS 消息服务器 URL，如 "nats://localhost:4222"，
	// 空串表示不启用
	NatsURL string `yaml:"nats_url"`
	// Subject 订阅的日志主题
	// 默认值：logs.entries
	Subject string `yaml:"subject"`
}

// LoggingConfig 日志配置结构体。
// 定义了日志输出的级别和格式。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
// 定义了 Prometheus 指标收集的相关设置。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	// 默认值：lumen
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
// 定义了分布式追踪的相关设置，支持 OpenTelemetry 协议。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址（如 "tempo:4317"）
	// 默认值：tempo:4317
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称，用于追踪标识
	// 默认值：lumen-paneld
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	// 默认值：0.1（10% 采样）
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识（如 production、staging、development）
	// 默认值：development
	Environment string `yaml:"environment"`
}

// MCPConfig 模型上下文协议服务配置结构体。
// 启用后面板通过标准输入输出暴露日志查询等工具给 AI 客户端。
type MCPConfig struct {
	// Enabled 是否启用 MCP 服务
	Enabled bool `yaml:"enabled"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，并处理环境变量覆盖。
//
// 参数：
//   - path: 配置文件的路径
//
// 返回值：
//   - *Config: 加载并处理后的配置对象
//   - error: 如果读取或解析失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Default 返回一份仅含默认值的配置，供无配置文件启动使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides 应用环境变量覆盖。
// 该方法允许通过环境变量覆盖敏感配置项，支持两种方式：
// 1. 直接设置环境变量（如 LUMEN_ADMIN_KEY）
// 2. 通过 _FILE 后缀指定包含密钥的文件路径（如 LUMEN_ADMIN_KEY_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("LUMEN_DEPLOYMENT_URL")); v != "" {
		c.Deployment.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_ADMIN_KEY_FILE")); v != "" {
		c.Deployment.AdminKeyFile = v
	}
	if v := readEnvOrFile("LUMEN_ADMIN_KEY", "LUMEN_ADMIN_KEY_FILE"); v != "" {
		c.Deployment.AdminKey = v
	}
	if v := readEnvOrFile("LUMEN_POSTGRES_PASSWORD", "LUMEN_POSTGRES_PASSWORD_FILE"); v != "" {
		c.Storage.Postgres.Password = v
	}
	if v := readEnvOrFile("LUMEN_REDIS_PASSWORD", "LUMEN_REDIS_PASSWORD_FILE"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := readEnvOrFile("LUMEN_AUTH_JWT_SECRET", "LUMEN_AUTH_JWT_SECRET_FILE"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// readEnvOrFile 从环境变量或文件读取配置值。
// 优先从 fileKey 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKey 指定的环境变量读取。
func readEnvOrFile(envKey, fileKey string) string {
	if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
		if b, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

// applyDefaults 应用默认配置值。
// 该方法为未设置的配置项填充合理的默认值，确保应用可以正常运行。
func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Deployment.StateInterval == 0 {
		c.Deployment.StateInterval = 5 * time.Second
	}

	if c.Stream.Interval == 0 {
		c.Stream.Interval = 2 * time.Second
	}
	if c.Stream.PollTimeout == 0 {
		c.Stream.PollTimeout = c.Stream.Interval
	}
	if c.Stream.MaxEntries == 0 {
		c.Stream.MaxEntries = 10000
	}

	if c.Jobs.Interval == 0 {
		c.Jobs.Interval = 2 * time.Second
	}
	if c.Jobs.PageSize == 0 {
		c.Jobs.PageSize = 50
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Storage.SweepSpec == "" {
		c.Storage.SweepSpec = "@hourly"
	}
	if c.Storage.Postgres.Host == "" {
		c.Storage.Postgres.Host = "localhost"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.Storage.Redis.Address == "" {
		c.Storage.Redis.Address = "localhost:6379"
	}

	if c.Events.Subject == "" {
		c.Events.Subject = "logs.entries"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "lumen"
	}

	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "tempo:4317"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "lumen-paneld"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
}
