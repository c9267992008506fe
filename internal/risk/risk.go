package risk

import (
	"time"

	"ArcFlow/internal/intent"
)

// Status 描述一笔转账意图在风控状态机中的位置。
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusBlockedCritical Status = "BLOCKED_CRITICAL"
	StatusBlockedPolicy   Status = "BLOCKED_POLICY"
	StatusBroadcasted     Status = "BROADCASTED"
	StatusFailedEVM       Status = "FAILED_EVM"
)

// Terminal 判断状态是否为终态，终态之后不再发生状态迁移。
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Factor 是触发风控加权的启发式因子编码。
type Factor string

const (
	FactorUnknownEntity Factor = "UNKNOWN_ENTITY"
	FactorHighVolume    Factor = "HIGH_VOLUME_TX"
)

// Assessment 是风控引擎对单笔意图的评估结果。评估结果不可变，
// 终态通过 WithStatus 产生副本记录，避免并发回合间的别名问题。
type Assessment struct {
	Score     int       `json:"risk_score"`
	Factors   []Factor  `json:"factors"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// WithStatus 返回带有指定状态的评估副本。
func (a Assessment) WithStatus(status Status) Assessment {
	clone := a
	clone.Status = status
	clone.Factors = append([]Factor(nil), a.Factors...)
	return clone
}

// heuristic 是一条独立的风控启发式规则：命中时返回加权值与因子编码。
// 规则之间相互独立、可叠加，评估顺序只影响因子列表的排列。
type heuristic func(it *intent.TransactionIntent, cfg *Config) (weight int, factor Factor, triggered bool)

// heuristics 按固定顺序执行，新增规则只需要追加到这里。
var heuristics = []heuristic{
	identityHeuristic,
	volumeHeuristic,
}

// identityHeuristic 检查收款方是否在可信名单内。
func identityHeuristic(it *intent.TransactionIntent, cfg *Config) (int, Factor, bool) {
	if cfg.Trusted(it.Recipient) {
		return 0, "", false
	}
	return 40, FactorUnknownEntity, true
}

// volumeHeuristic 检查金额是否超过大额阈值。
func volumeHeuristic(it *intent.TransactionIntent, cfg *Config) (int, Factor, bool) {
	if it.Amount.LessThanOrEqual(cfg.HighVolumeThreshold) {
		return 0, "", false
	}
	return 50, FactorHighVolume, true
}

// Score 对规范化意图做纯函数式风控评估：从 0 分开始，按固定顺序
// 叠加所有命中的启发式规则。无 I/O，输入相同则输出（除时间戳外）相同。
func Score(it *intent.TransactionIntent, cfg *Config) Assessment {
	assessment := Assessment{
		Factors:   make([]Factor, 0, len(heuristics)),
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
	}
	for _, rule := range heuristics {
		if weight, factor, triggered := rule(it, cfg); triggered {
			assessment.Score += weight
			assessment.Factors = append(assessment.Factors, factor)
		}
	}
	return assessment
}
