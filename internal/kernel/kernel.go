package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/executor"
	"ArcFlow/internal/intent"
	"ArcFlow/internal/observability/alerting"
	"ArcFlow/internal/observability/metrics"
	"ArcFlow/internal/risk"
	"ArcFlow/pkg/logger"
)

// Outcome 是一次 ExecuteIntent 调用的终态结果，不做持久化。
type Outcome struct {
	Status     risk.Status     `json:"status"`
	Message    string          `json:"message"`
	TxHash     string          `json:"tx_hash,omitempty"`
	Recipient  string          `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	Assessment risk.Assessment `json:"analysis"`
}

// Kernel 将清洗、风控评估、策略闸门与结算边界组合成单一的
// ExecuteIntent 操作。所有依赖都通过构造函数注入，没有环境全局量。
type Kernel struct {
	submitter   executor.Submitter
	policy      *risk.Config
	alerter     alerting.Dispatcher
	audit       *slog.Logger
	log         *slog.Logger
	execTimeout time.Duration
}

// Option 定义可选的 Kernel 配置。
type Option func(*Kernel)

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(k *Kernel) {
		k.alerter = dispatcher
	}
}

// WithExecutionTimeout 设置调用结算边界的超时时间。
func WithExecutionTimeout(timeout time.Duration) Option {
	return func(k *Kernel) {
		if timeout > 0 {
			k.execTimeout = timeout
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(audit *slog.Logger) Option {
	return func(k *Kernel) {
		k.audit = audit
	}
}

// New 创建一个 Kernel。
func New(submitter executor.Submitter, policy *risk.Config, opts ...Option) *Kernel {
	k := &Kernel{
		submitter: submitter,
		policy:    policy,
		audit:     logger.Audit(),
		log:       logger.Named("kernel"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// ExecuteIntent 驱动单笔意图走完状态机：
//
//	PENDING -> BLOCKED_CRITICAL | BLOCKED_POLICY   （终态，不触碰结算边界）
//	PENDING -> BROADCASTED -> 确认 | FAILED_EVM     （失败不自动重试）
//
// 每次调用最多向结算边界提交一次，任何拦截路径下提交次数为零。
// 清洗失败直接上抛 INVALID_ARGUMENT，不产生评估结果。
func (k *Kernel) ExecuteIntent(ctx context.Context, rawRecipient, rawAmount string) (*Outcome, error) {
	if k.policy == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置策略")
	}
	if k.submitter == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置结算边界")
	}

	it, err := intent.Sanitize(rawRecipient, rawAmount)
	if err != nil {
		return nil, err
	}

	assessment := risk.Score(it, k.policy)
	decision := risk.Gate(it, assessment, k.policy)

	if decision.Status.Terminal() {
		final := assessment.WithStatus(decision.Status)
		k.record(ctx, it, final, decision.Reason, "")
		k.alert(ctx, alerting.Event{
			Code:     xerrors.CodePolicyBlocked,
			Message:  decision.Reason,
			Severity: xerrors.SeverityWarning,
			IntentID: it.ID,
			Status:   string(final.Status),
			Factors:  factorStrings(final.Factors),
		})
		return &Outcome{
			Status:     final.Status,
			Message:    decision.Reason,
			Recipient:  it.Recipient,
			Amount:     it.Amount,
			Assessment: final,
		}, nil
	}

	execCtx := ctx
	if k.execTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, k.execTimeout)
		defer cancel()
	}

	receipt, err := k.submitter.Submit(execCtx, it.Recipient, it.Amount)
	if err != nil {
		final := assessment.WithStatus(risk.StatusFailedEVM)
		message := fmt.Sprintf("[ERROR] RPC Rejection: %v", err)
		k.record(ctx, it, final, message, "")
		k.alert(ctx, alerting.Event{
			Code:     xerrors.CodeExecutionFailure,
			Message:  message,
			Severity: xerrors.SeverityCritical,
			IntentID: it.ID,
			Status:   string(final.Status),
			Factors:  factorStrings(final.Factors),
		})
		return &Outcome{
			Status:     final.Status,
			Message:    message,
			Recipient:  it.Recipient,
			Amount:     it.Amount,
			Assessment: final,
		}, nil
	}

	final := assessment.WithStatus(risk.StatusBroadcasted)
	message := fmt.Sprintf("[SUCCESS] TX_HASH: %s", receipt.TxHash)
	k.record(ctx, it, final, message, receipt.TxHash)
	return &Outcome{
		Status:     final.Status,
		Message:    message,
		TxHash:     receipt.TxHash,
		Recipient:  it.Recipient,
		Amount:     it.Amount,
		Assessment: final,
	}, nil
}

// record 将决策写入审计日志并累计指标。
func (k *Kernel) record(_ context.Context, it *intent.TransactionIntent, assessment risk.Assessment, message, txHash string) {
	metrics.ObserveOutcome(string(assessment.Status))
	attrs := []any{
		slog.String("intent_id", it.ID),
		slog.String("recipient", it.Recipient),
		slog.String("amount", it.Amount.String()),
		slog.Int("risk_score", assessment.Score),
		slog.Any("factors", factorStrings(assessment.Factors)),
		slog.String("status", string(assessment.Status)),
		slog.String("message", message),
	}
	if txHash != "" {
		attrs = append(attrs, slog.String("tx_hash", txHash))
	}
	if k.audit != nil {
		k.audit.Info("intent decision", attrs...)
	}
}

func (k *Kernel) alert(ctx context.Context, event alerting.Event) {
	if k.alerter == nil {
		return
	}
	if err := k.alerter.Notify(ctx, event); err != nil {
		k.log.Warn("派发告警事件失败", slog.Any("error", err))
	}
}

func factorStrings(factors []risk.Factor) []string {
	out := make([]string, 0, len(factors))
	for _, factor := range factors {
		out = append(out, string(factor))
	}
	return out
}
