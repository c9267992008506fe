package risk

import (
	"fmt"

	"ArcFlow/internal/intent"
)

// Decision 是策略闸门的判定结果。Status 为 PENDING 时允许执行，
// 否则 Reason 携带面向用户的拦截说明。
type Decision struct {
	Status Status
	Reason string
}

// Gate 按固定顺序执行两道闸门，先命中者生效：
//
//  1. 风险分达到临界阈值 -> BLOCKED_CRITICAL。风险闸门先于限额闸门，
//     小额但模式可疑的转账同样要能被拦下。
//  2. 金额超过硬性上限 -> BLOCKED_POLICY。上限是独立于风险分的绝对天花板。
//
// 两道闸门都未命中时维持 PENDING，由调用方继续执行。
func Gate(it *intent.TransactionIntent, assessment Assessment, cfg *Config) Decision {
	if assessment.Score >= cfg.CriticalRiskThreshold {
		return Decision{
			Status: StatusBlockedCritical,
			Reason: fmt.Sprintf("[BLOCK] Risk Threshold Exceeded (%d/100). Execution Halted.", assessment.Score),
		}
	}
	if it.Amount.GreaterThan(cfg.HardCap) {
		return Decision{
			Status: StatusBlockedPolicy,
			Reason: fmt.Sprintf("[BLOCK] Policy Limit Exceeded (Req: %s > Cap: %s).", it.Amount, cfg.HardCap),
		}
	}
	return Decision{Status: StatusPending}
}
