package risk

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "ArcFlow/internal/errors"
)

// Config 是进程级的策略配置：启动时装载一次，之后只读，
// 可被并发回合无锁共享。
type Config struct {
	HardCap               decimal.Decimal
	HighVolumeThreshold   decimal.Decimal
	CriticalRiskThreshold int
	PolicyRiskThreshold   int
	TrustedRecipients     map[string]struct{}
}

// Trusted 判断地址（规范化小写形式）是否在可信名单内。
func (c *Config) Trusted(recipient string) bool {
	if c == nil {
		return false
	}
	_, ok := c.TrustedRecipients[strings.ToLower(recipient)]
	return ok
}

// policyFile 对应策略 YAML 文件的结构。金额以字符串书写，
// 避免 YAML 浮点数带来的精度噪声。
type policyFile struct {
	HardCap               string   `yaml:"hard_cap"`
	HighVolumeThreshold   string   `yaml:"high_volume_threshold"`
	CriticalRiskThreshold *int     `yaml:"critical_risk_threshold"`
	PolicyRiskThreshold   *int     `yaml:"policy_risk_threshold"`
	TrustedRecipients     []string `yaml:"trusted_recipients"`
}

// DefaultConfig 返回原始部署使用的策略默认值。
func DefaultConfig() *Config {
	return &Config{
		HardCap:               decimal.NewFromInt(50),
		HighVolumeThreshold:   decimal.NewFromInt(20),
		CriticalRiskThreshold: 80,
		PolicyRiskThreshold:   50,
		TrustedRecipients: map[string]struct{}{
			"0x937402b657c91d9e74fcf373187f1758c0d8e933": {},
			"0xd8da6bf26964af9d7eed9e03e53415d37aa96045": {},
		},
	}
}

// LoadFile 解析策略 YAML 文件，未填写的字段沿用默认值。
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "读取策略文件失败")
	}

	var file policyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "解析策略文件失败")
	}

	if file.HardCap != "" {
		hardCap, err := decimal.NewFromString(file.HardCap)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, fmt.Sprintf("非法的 hard_cap: %q", file.HardCap))
		}
		cfg.HardCap = hardCap
	}
	if file.HighVolumeThreshold != "" {
		threshold, err := decimal.NewFromString(file.HighVolumeThreshold)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, fmt.Sprintf("非法的 high_volume_threshold: %q", file.HighVolumeThreshold))
		}
		cfg.HighVolumeThreshold = threshold
	}
	if file.CriticalRiskThreshold != nil {
		cfg.CriticalRiskThreshold = *file.CriticalRiskThreshold
	}
	if file.PolicyRiskThreshold != nil {
		cfg.PolicyRiskThreshold = *file.PolicyRiskThreshold
	}
	if file.TrustedRecipients != nil {
		cfg.TrustedRecipients = make(map[string]struct{}, len(file.TrustedRecipients))
		for _, recipient := range file.TrustedRecipients {
			recipient = strings.ToLower(strings.TrimSpace(recipient))
			if recipient == "" {
				continue
			}
			cfg.TrustedRecipients[recipient] = struct{}{}
		}
	}
	return cfg, nil
}
