package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ArcFlow/internal/agent"
	"ArcFlow/internal/api"
	"ArcFlow/internal/config"
	"ArcFlow/internal/executor/evm"
	"ArcFlow/internal/kernel"
	"ArcFlow/internal/llm"
	"ArcFlow/internal/llm/openai"
	"ArcFlow/internal/observability/alerting"
	"ArcFlow/internal/risk"
	"ArcFlow/internal/storage/mysql"
	"ArcFlow/pkg/logger"
)

// main 是 arcflowd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("arcflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ARCFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "arcflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	policy, err := loadPolicy(ctx, cfg)
	if err != nil {
		return err
	}

	dispatcher, cleanup, err := createDispatcher(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	submitter, err := createSubmitter(ctx, cfg)
	if err != nil {
		return err
	}
	defer submitter.Close()

	candidates, err := createCandidates(cfg)
	if err != nil {
		return err
	}

	kern := kernel.New(submitter, policy,
		kernel.WithAlertDispatcher(dispatcher),
		kernel.WithExecutionTimeout(time.Duration(cfg.Executor.ConfirmTimeoutSeconds)*time.Second),
	)

	agentOpts := []agent.Option{
		agent.WithAlertDispatcher(dispatcher),
	}
	if cfg.LLM.CallTimeoutSeconds > 0 {
		agentOpts = append(agentOpts, agent.WithCallTimeout(time.Duration(cfg.LLM.CallTimeoutSeconds)*time.Second))
	}
	ag := agent.New(candidates, kern, agentOpts...)

	server := api.NewServer(cfg.Server.Address, ag)
	logger.L().Info("arcflowd 启动", "address", cfg.Server.Address)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadPolicy 按配置来源装载策略，启动后只读。
func loadPolicy(ctx context.Context, cfg *config.Config) (*risk.Config, error) {
	switch cfg.Policy.Source {
	case "", "file":
		return risk.LoadFile(cfg.Policy.Path)
	case "mysql":
		store, err := mysql.NewAllowlistStore(ctx, mysql.Config{
			DSN:             cfg.Policy.MySQL.DSN,
			MaxOpenConns:    cfg.Policy.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Policy.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Policy.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Policy.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		defer store.Close()

		policy, err := risk.LoadFile(cfg.Policy.Path)
		if err != nil {
			return nil, err
		}
		recipients, err := store.LoadTrustedRecipients(ctx)
		if err != nil {
			return nil, err
		}
		policy.TrustedRecipients = recipients
		return policy, nil
	default:
		return nil, fmt.Errorf("未知的策略来源: %s", cfg.Policy.Source)
	}
}

// createSubmitter 构造结算层适配器，凭据缺失视为启动失败。
func createSubmitter(ctx context.Context, cfg *config.Config) (*evm.Client, error) {
	rpcURL := strings.TrimSpace(os.Getenv(cfg.Executor.RPCURLEnv))
	if rpcURL == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置结算层 RPC 地址", cfg.Executor.RPCURLEnv)
	}
	privateKey := strings.TrimSpace(os.Getenv(cfg.Executor.PrivateKeyEnv))
	if privateKey == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置签名私钥", cfg.Executor.PrivateKeyEnv)
	}

	var lock evm.Locker
	switch cfg.Executor.Lock.Driver {
	case "", "memory":
		lock = evm.NewProcessLock()
	case "redis":
		redisLock, err := evm.NewRedisLock(evm.RedisLockConfig{
			Address:       cfg.Executor.Lock.Redis.Address,
			Password:      cfg.Executor.Lock.Redis.Password,
			DB:            cfg.Executor.Lock.Redis.DB,
			Key:           cfg.Executor.Lock.Redis.Key,
			TTL:           time.Duration(cfg.Executor.Lock.Redis.TTLSeconds) * time.Second,
			RetryInterval: time.Duration(cfg.Executor.Lock.Redis.RetryIntervalMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		lock = redisLock
	default:
		return nil, fmt.Errorf("未知的提交锁驱动: %s", cfg.Executor.Lock.Driver)
	}

	return evm.NewClient(ctx, evm.Config{
		RPCURL:         rpcURL,
		PrivateKeyHex:  privateKey,
		TokenAddress:   cfg.Executor.TokenAddress,
		TokenDecimals:  cfg.Executor.TokenDecimals,
		ConfirmTimeout: time.Duration(cfg.Executor.ConfirmTimeoutSeconds) * time.Second,
	}, lock)
}

// createCandidates 按配置顺序装配推理候选列表。
func createCandidates(cfg *config.Config) ([]llm.Candidate, error) {
	if len(cfg.LLM.Candidates) == 0 {
		return nil, errors.New("至少需要配置一个推理候选")
	}
	candidates := make([]llm.Candidate, 0, len(cfg.LLM.Candidates))
	for _, candidate := range cfg.LLM.Candidates {
		apiKey := strings.TrimSpace(os.Getenv(candidate.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("环境变量 %s 未设置推理后端凭据", candidate.APIKeyEnv)
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: candidate.BaseURL,
			Model:   candidate.Model,
			Timeout: candidate.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, llm.Candidate{Name: candidate.Name, Client: client})
	}
	return candidates, nil
}

// createDispatcher 装配告警渠道。
func createDispatcher(cfg *config.Config) (alerting.Dispatcher, func(), error) {
	notifiers := []alerting.Notifier{}
	cleanup := func() {}
	for _, channel := range cfg.Alerting.Channels {
		switch channel {
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier())
		case "amqp":
			notifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
				URL:        cfg.Alerting.AMQP.URL,
				Queue:      cfg.Alerting.AMQP.Queue,
				Durable:    cfg.Alerting.AMQP.Durable,
				AutoDelete: cfg.Alerting.AMQP.AutoDelete,
			})
			if err != nil {
				return nil, cleanup, err
			}
			notifiers = append(notifiers, notifier)
			cleanup = func() { _ = notifier.Close() }
		default:
			return nil, cleanup, fmt.Errorf("未知的告警渠道: %s", channel)
		}
	}
	return alerting.NewFanout(notifiers...), cleanup, nil
}
