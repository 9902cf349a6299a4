package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lestnet-sdk/internal/alerting"
	"lestnet-sdk/internal/auth"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/storage/mysql"
	redisstore "lestnet-sdk/internal/storage/redis"
	"lestnet-sdk/pkg/logger"
)

// Config 描述 Lestnet SDK 在启动阶段需要加载的全部配置。
type Config struct {
	Network   network.Network `yaml:"network"`
	Retry     retry.Policy    `yaml:"retry"`
	Faucet    FaucetConfig    `yaml:"faucet"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Logging   logger.Config   `yaml:"logging"`
	Submitter SubmitterConfig `yaml:"submitter"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Journal   JournalConfig   `yaml:"journal"`
	Queue     QueueConfig     `yaml:"queue"`
	Server    ServerConfig    `yaml:"server"`
	Auth      auth.Config     `yaml:"auth"`
	Alerting  alerting.Config `yaml:"alerting"`
}

// FaucetConfig 控制水龙头客户端。
type FaucetConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// WalletConfig 描述签名凭证。通常通过 ${LESTNET_PRIVATE_KEY} 之类的环境变量注入，
// 不要把明文写进配置文件。
type WalletConfig struct {
	Mnemonic   string `yaml:"mnemonic"`
	PrivateKey string `yaml:"private_key"`
	Path       string `yaml:"path"`
}

// SubmitterConfig 控制交易提交器。
type SubmitterConfig struct {
	Transport    string        `yaml:"transport"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig = redisstore.Config

// NonceConfig 选择 nonce 分配器。redis 驱动允许多个进程共享同一账户。
type NonceConfig struct {
	Driver    string        `yaml:"driver"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Redis     RedisConfig   `yaml:"redis"`
}

// JournalConfig 选择交易日志的存储。
type JournalConfig struct {
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// QueueConfig 描述异步转账任务的队列与工作协程。
type QueueConfig struct {
	Driver     string         `yaml:"driver"`
	Name       string         `yaml:"name"`
	Workers    int            `yaml:"workers"`
	MaxRetries int            `yaml:"max_retries"`
	BufferSize int            `yaml:"buffer_size"`
	Redis      RedisConfig    `yaml:"redis"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
	Durable  bool   `yaml:"durable"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default 返回不读取任何文件时使用的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load 解析指定路径的 YAML 配置文件。envFiles 中存在的 .env 文件会先被加载，
// 已存在的环境变量不会被覆盖；随后配置内容中的 ${VAR} 按环境变量展开。
func Load(path string, envFiles ...string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 展开环境变量并解码 YAML，不填充默认值。
func Parse(content []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(content))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("检查 env 文件失败: %w", err)
		}
		existing = append(existing, file)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("加载 env 文件失败: %w", err)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.Network = c.Network.WithDefaults()
	c.Retry = retry.DefaultPolicy().Merge(c.Retry).Normalize()

	if c.Faucet.URL == "" {
		c.Faucet.URL = c.Network.FaucetURL
	}
	if c.Faucet.Timeout <= 0 {
		c.Faucet.Timeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) && baseDir != "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Submitter.Transport == "" {
		c.Submitter.Transport = "http"
	}
	if c.Submitter.PollInterval <= 0 {
		c.Submitter.PollInterval = 2 * time.Second
	}

	if c.Nonce.Driver == "" {
		c.Nonce.Driver = "memory"
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 64
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}
}

// Validate 检查驱动名称及其必填参数。
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	switch c.Submitter.Transport {
	case "http", "ws":
	default:
		return fmt.Errorf("submitter.transport 不支持 %q", c.Submitter.Transport)
	}
	switch c.Nonce.Driver {
	case "memory":
	case "redis":
		if c.Nonce.Redis.Address == "" {
			return errors.New("nonce.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("nonce.driver 不支持 %q", c.Nonce.Driver)
	}
	switch c.Journal.Driver {
	case "memory", "none":
	case "mysql":
		if c.Journal.MySQL.DSN == "" {
			return errors.New("journal.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("journal.driver 不支持 %q", c.Journal.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			return errors.New("queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("queue.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("queue.driver 不支持 %q", c.Queue.Driver)
	}
	switch c.Auth.Mode {
	case auth.ModeDisabled:
	case auth.ModeToken:
		if len(c.Auth.Tokens) == 0 {
			return errors.New("auth.tokens 不能为空")
		}
	case auth.ModeJWT:
		if c.Auth.JWT.Secret == "" {
			return errors.New("auth.jwt.secret 不能为空")
		}
	default:
		return fmt.Errorf("auth.mode 不支持 %q", c.Auth.Mode)
	}
	return nil
}
