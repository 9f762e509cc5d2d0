package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息）
//  2. 加载 {env}.yaml
//  3. 环境变量覆盖，填充默认值
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)

	dbPassword := getEnv("DB_PASSWORD", "bookwise_dev_password")
	yamlCfg.Redis.Password = firstEnv("REDIS_PASSWORD")

	databaseURL := os.Getenv("DATABASE_URL")
	driver := detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL)
	if databaseURL == "" {
		yamlCfg.Database.Driver = driver
		databaseURL = buildDatabaseURL(yamlCfg.Database, dbPassword)
	}

	redisURL := getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis))

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		RedisURL:       redisURL,
		APIPort:        getEnv("API_PORT", yamlCfg.APIServer.Port),
		APIServer:      yamlCfg.APIServer,
		Auth:           yamlCfg.Auth,
		MinIO:          yamlCfg.MinIO,
		Mail:           yamlCfg.Mail,
		RateLimit:      yamlCfg.RateLimit,
		Borrowing:      yamlCfg.Borrowing,
		Lifecycle:      yamlCfg.Lifecycle,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	// 凭据只从环境变量读取
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Auth.AdminEmail = os.Getenv("ADMIN_EMAIL")
	cfg.Auth.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.MinIO.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	cfg.MinIO.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")
	cfg.Mail.APIKey = os.Getenv("RESEND_API_KEY")

	cfg.Lifecycle.PollInterval = getEnvDuration("LIFECYCLE_POLL_INTERVAL", cfg.Lifecycle.PollInterval)

	cfg.applyDefaults()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	path := findConfigFile(env)
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] read %s failed: %v", path, err)
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
		log.Printf("[config] parse %s failed: %v", path, err)
		return cfg
	}
	cfg.loadedFrom = path
	return cfg
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Host: "localhost", Port: 5432, User: "bookwise", Name: "bookwise", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "bookwise"},
		Auth:      AuthConfig{AccessTokenTTL: 15 * time.Minute, RefreshTokenTTL: 7 * 24 * time.Hour},
		Mail:      MailConfig{Provider: "log", From: "BookWise <welcome@bookwise.local>"},
		RateLimit: RateLimitConfig{Limit: 5, Window: time.Minute, Prefix: "bookwise:ratelimit"},
		Borrowing: BorrowingConfig{LoanPeriod: 7 * 24 * time.Hour},
		Lifecycle: defaultLifecycle(),
	}
}

func defaultLifecycle() LifecycleConfig {
	return LifecycleConfig{
		WelcomeDelay: 3 * 24 * time.Hour,
		CycleDelay:   30 * 24 * time.Hour,
		PollInterval: 15 * time.Second,
		BatchSize:    50,
		Concurrency:  8,
		RetryBase:    30 * time.Second,
		RetryMax:     1 * time.Hour,
		StepLease:    5 * time.Minute,
	}
}

// applyDefaults 填充 YAML 中显式置零的字段
func (c *Config) applyDefaults() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 5
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Prefix == "" {
		c.RateLimit.Prefix = "bookwise:ratelimit"
	}
	if c.Borrowing.LoanPeriod <= 0 {
		c.Borrowing.LoanPeriod = 7 * 24 * time.Hour
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = "log"
	}

	d := defaultLifecycle()
	l := &c.Lifecycle
	if l.WelcomeDelay <= 0 {
		l.WelcomeDelay = d.WelcomeDelay
	}
	if l.CycleDelay <= 0 {
		l.CycleDelay = d.CycleDelay
	}
	if l.PollInterval <= 0 {
		l.PollInterval = d.PollInterval
	}
	if l.BatchSize <= 0 {
		l.BatchSize = d.BatchSize
	}
	if l.Concurrency <= 0 {
		l.Concurrency = d.Concurrency
	}
	if l.RetryBase <= 0 {
		l.RetryBase = d.RetryBase
	}
	if l.RetryMax <= 0 {
		l.RetryMax = d.RetryMax
	}
	if l.StepLease <= 0 {
		l.StepLease = d.StepLease
	}
}
