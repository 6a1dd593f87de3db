package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述 attestd 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	Events    EventsConfig    `yaml:"events"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Attesters []AttesterKey   `yaml:"attesters"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// RegistryConfig 描述注册表存储与时间窗参数。
type RegistryConfig struct {
	Driver                  string `yaml:"driver"` // memory | mysql
	DSN                     string `yaml:"dsn"`
	MaxOpenConns            int    `yaml:"max_open_conns"`
	MaxIdleConns            int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds  int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds  int    `yaml:"conn_max_idle_time_seconds"`
	FreshnessWindowSeconds  int64  `yaml:"freshness_window_seconds"`
	Deployer                string `yaml:"deployer"` // 部署者地址，引导时自动授权
}

// EventsConfig 描述事件发布通道。
type EventsConfig struct {
	Driver   string         `yaml:"driver"` // memory | redis | rabbitmq
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件通道的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// RabbitMQConfig 描述 RabbitMQ 事件通道的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ArtifactsConfig 描述电路产物存储目录。
type ArtifactsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig 描述日志输出方式。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AttesterKey 将 API key 映射到证明者地址。
type AttesterKey struct {
	APIKey  string `yaml:"api_key"`
	Address string `yaml:"address"`
}

// Load 从 YAML 文件加载配置并应用默认值。
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.FreshnessWindowSeconds <= 0 {
		c.Registry.FreshnessWindowSeconds = 3600
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Artifacts.DataDir == "" {
		c.Artifacts.DataDir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Registry.Driver) {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Registry.DSN) == "" {
			return errors.New("registry.driver=mysql 需要配置 registry.dsn")
		}
	default:
		return fmt.Errorf("不支持的 registry driver: %s", c.Registry.Driver)
	}

	switch strings.ToLower(c.Events.Driver) {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Events.Redis.Address) == "" {
			return errors.New("events.driver=redis 需要配置 events.redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("events.driver=rabbitmq 需要配置 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的 events driver: %s", c.Events.Driver)
	}

	if strings.TrimSpace(c.Registry.Deployer) == "" {
		return errors.New("registry.deployer 不能为空")
	}
	return nil
}
