package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 arcflowd 在启动阶段需要加载的核心配置。
// 凭据类字段只配置环境变量名，进程启动时解析；缺失即启动失败。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	LLM      LLMConfig      `json:"llm"`
	Executor ExecutorConfig `json:"executor"`
	Policy   PolicyConfig   `json:"policy"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件的轮转参数。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// LLMConfig 描述按序降级的推理候选列表。
type LLMConfig struct {
	CallTimeoutSeconds int               `json:"call_timeout_seconds"`
	Candidates         []CandidateConfig `json:"candidates"`
}

// CandidateConfig 描述一个推理后端候选。
type CandidateConfig struct {
	Name           string `json:"name"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回候选的调用超时时间。
func (c CandidateConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExecutorConfig 描述结算层适配器的连接与签名参数。
type ExecutorConfig struct {
	RPCURLEnv             string     `json:"rpc_url_env"`
	PrivateKeyEnv         string     `json:"private_key_env"`
	TokenAddress          string     `json:"token_address"`
	TokenDecimals         int32      `json:"token_decimals"`
	ConfirmTimeoutSeconds int        `json:"confirm_timeout_seconds"`
	Lock                  LockConfig `json:"lock"`
}

// LockConfig 选择提交锁实现：单副本用进程内锁，多副本共享签名
// 身份时切换到 Redis 分布式锁。
type LockConfig struct {
	Driver string          `json:"driver"`
	Redis  RedisLockConfig `json:"redis"`
}

// RedisLockConfig 描述 Redis 提交锁的连接参数。
type RedisLockConfig struct {
	Address         string `json:"address"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	Key             string `json:"key"`
	TTLSeconds      int    `json:"ttl_seconds"`
	RetryIntervalMS int    `json:"retry_interval_ms"`
}

// PolicyConfig 选择策略装载来源：YAML 文件或 MySQL 可信名单表。
type PolicyConfig struct {
	Source string      `json:"source"`
	Path   string      `json:"path"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// AlertingConfig 描述告警事件的投递渠道。
type AlertingConfig struct {
	Channels []string   `json:"channels"`
	AMQP     AMQPConfig `json:"amqp"`
}

// AMQPConfig 描述 RabbitMQ 告警渠道参数。
type AMQPConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Executor.RPCURLEnv == "" {
		c.Executor.RPCURLEnv = "ARC_RPC_URL"
	}
	if c.Executor.PrivateKeyEnv == "" {
		c.Executor.PrivateKeyEnv = "ARC_PRIVATE_KEY"
	}
	if c.Executor.TokenAddress == "" {
		// Arc Testnet 的 USDC 系统合约。
		c.Executor.TokenAddress = "0x3600000000000000000000000000000000000000"
	}
	if c.Executor.TokenDecimals <= 0 {
		c.Executor.TokenDecimals = 6
	}
	if c.Executor.Lock.Driver == "" {
		c.Executor.Lock.Driver = "memory"
	}

	if c.Policy.Source == "" {
		c.Policy.Source = "file"
	}
	if c.Policy.Path != "" && !filepath.IsAbs(c.Policy.Path) {
		c.Policy.Path = filepath.Join(baseDir, c.Policy.Path)
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}

	for i := range c.LLM.Candidates {
		if c.LLM.Candidates[i].APIKeyEnv == "" {
			c.LLM.Candidates[i].APIKeyEnv = "OPENAI_API_KEY"
		}
		if c.LLM.Candidates[i].Name == "" {
			c.LLM.Candidates[i].Name = c.LLM.Candidates[i].Model
		}
	}
}
