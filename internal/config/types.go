// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env.dev
//   - 测试: APP_ENV=test → configs/test.yaml + .env.test
//   - 生产: APP_ENV=prod → /etc/bookwise/prod.yaml
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Borrowing BorrowingConfig `yaml:"borrowing"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
	URL  string `yaml:"url"`  // 对外访问 URL
}

// AuthConfig 认证配置
// 注意：JWTSecret/AdminEmail/AdminPassword 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret       string        `yaml:"-"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	AdminEmail      string        `yaml:"-"`
	AdminPassword   string        `yaml:"-"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" 或 "sqlite"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// MinIOConfig 媒体对象存储配置（封面、预告片）
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`   // 例如 localhost:9000
	AccessKey string `yaml:"-"`          // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`          // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`    // 是否使用 HTTPS
	Bucket    string `yaml:"bucket"`     // 默认 bucket 名称
	PublicURL string `yaml:"public_url"` // CDN 访问前缀，为空时使用 endpoint
}

// MailConfig 邮件发送配置
type MailConfig struct {
	Provider string `yaml:"provider"` // "resend" 或 "log"
	From     string `yaml:"from"`
	APIKey   string `yaml:"-"` // 只从 RESEND_API_KEY 环境变量读取
}

// RateLimitConfig 固定窗口限流配置
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Prefix string        `yaml:"prefix"`
}

// BorrowingConfig 借阅策略
type BorrowingConfig struct {
	LoanPeriod     time.Duration `yaml:"loan_period"`
	MaxActiveLoans int           `yaml:"max_active_loans"` // 0 表示不限制
}

// LifecycleConfig 用户生命周期工作流配置
type LifecycleConfig struct {
	WelcomeDelay time.Duration `yaml:"welcome_delay"` // 欢迎邮件后首次检查的等待时长
	CycleDelay   time.Duration `yaml:"cycle_delay"`   // 每轮状态邮件之间的等待时长
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	RetryBase    time.Duration `yaml:"retry_base"`
	RetryMax     time.Duration `yaml:"retry_max"`
	StepLease    time.Duration `yaml:"step_lease"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres" 或 "sqlite"
	DatabaseURL    string
	RedisURL       string
	APIPort        string
	APIServer      APIServerConfig
	Auth           AuthConfig
	MinIO          MinIOConfig
	Mail           MailConfig
	RateLimit      RateLimitConfig
	Borrowing      BorrowingConfig
	Lifecycle      LifecycleConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
