package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Auth     AuthConfig     `mapstructure:"Auth"`
	LLM      LLMConfig      `mapstructure:"LLM"`
	Quota    QuotaConfig    `mapstructure:"Quota"`
}

type ServerConfig struct {
	Port        string `mapstructure:"Port"`
	CORSOrigins string `mapstructure:"CORSOrigins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type AuthConfig struct {
	Secret string `mapstructure:"Secret"`
}

type LLMConfig struct {
	BaseURL        string `mapstructure:"BaseURL"`
	TimeoutSeconds int    `mapstructure:"TimeoutSeconds"`
}

func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type QuotaConfig struct {
	DefaultLimitBytes  int64   `mapstructure:"DefaultLimitBytes"`
	WarnRatio          float64 `mapstructure:"WarnRatio"`
	AutoArchiveOnLimit bool    `mapstructure:"AutoArchiveOnLimit"`
	ReleaseRatio       float64 `mapstructure:"ReleaseRatio"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.AutomaticEnv()

	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.CORSOrigins", "CORS_ORIGINS")
	v.BindEnv("Auth.Secret", "AUTH_SECRET")
	v.BindEnv("LLM.BaseURL", "LLM_BASE_URL")
	v.BindEnv("LLM.TimeoutSeconds", "LLM_TIMEOUT_SECONDS")
	v.BindEnv("Quota.DefaultLimitBytes", "QUOTA_DEFAULT_LIMIT_BYTES")
	v.BindEnv("Quota.WarnRatio", "QUOTA_WARN_RATIO")
	v.BindEnv("Quota.AutoArchiveOnLimit", "QUOTA_AUTO_ARCHIVE_ON_LIMIT")
	v.BindEnv("Quota.ReleaseRatio", "QUOTA_AUTO_ARCHIVE_RELEASE_RATIO")

	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Server.CORSOrigins", "*")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("LLM.BaseURL", "http://localhost:5000")
	v.SetDefault("LLM.TimeoutSeconds", 60)
	// 100 MiB default limit, warn at 80%, release the oldest 20% on limit.
	v.SetDefault("Quota.DefaultLimitBytes", 104857600)
	v.SetDefault("Quota.WarnRatio", 0.8)
	v.SetDefault("Quota.AutoArchiveOnLimit", false)
	v.SetDefault("Quota.ReleaseRatio", 0.2)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Password == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
