package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/kernel"
	"ArcFlow/internal/llm"
	"ArcFlow/internal/observability/alerting"
	"ArcFlow/internal/observability/metrics"
	"ArcFlow/internal/risk"
	"ArcFlow/pkg/logger"
)

// TurnRequest 描述一个用户会话回合。历史由调用方提供，核心不做持久化。
type TurnRequest struct {
	Message string        `json:"message"`
	History []llm.Message `json:"history,omitempty"`
}

// ActionTxAttempt 标记本回合触发了一次转账尝试。
const ActionTxAttempt = "TX_ATTEMPT"

// TxDetails 汇总转账尝试的结构化元数据。
type TxDetails struct {
	To       string           `json:"to"`
	Amount   string           `json:"amount"`
	Output   string           `json:"output"`
	Analysis *risk.Assessment `json:"analysis,omitempty"`
}

// TurnResult 是一个回合的最终产出：自然语言回复，以及（若发生
// 转账尝试）结构化的结果元数据。
type TurnResult struct {
	TurnID    string     `json:"turn_id"`
	Candidate string     `json:"candidate"`
	Reply     string     `json:"reply"`
	Action    string     `json:"action,omitempty"`
	Details   *TxDetails `json:"details,omitempty"`
}

// PaymentExecutor 定义了编排层所需的交易内核能力。
type PaymentExecutor interface {
	ExecuteIntent(ctx context.Context, rawRecipient, rawAmount string) (*kernel.Outcome, error)
}

// Agent 按序驱动推理候选完成一个会话回合，是系统的编排核心。
// 候选列表启动时装配、只读，可被并发回合无锁共享。
type Agent struct {
	candidates  []llm.Candidate
	executor    PaymentExecutor
	alerter     alerting.Dispatcher
	log         *slog.Logger
	callTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithCallTimeout 设置单次推理调用的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.callTimeout = timeout
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = dispatcher
	}
}

// New 创建一个 Agent。
func New(candidates []llm.Candidate, executor PaymentExecutor, opts ...Option) *Agent {
	ag := &Agent{
		candidates: candidates,
		executor:   executor,
		log:        logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Chat 驱动一个用户回合：按序尝试候选后端，先成功者生效。只有
// 后端级失败（网络、鉴权、配额、模型不支持）才降级到下一个候选；
// 纯文本回答与被拦截的转账尝试都是合法的回合终态。候选耗尽时
// 以 PROVIDERS_EXHAUSTED 失败。
func (a *Agent) Chat(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if len(a.candidates) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理候选")
	}
	if req.Message == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户消息不能为空")
	}

	turnID := uuid.NewString()
	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	for _, candidate := range a.candidates {
		result, err := a.attempt(ctx, candidate, messages)
		if err == nil {
			metrics.ObserveProviderAttempt(candidate.Name, true)
			result.TurnID = turnID
			result.Candidate = candidate.Name
			return result, nil
		}

		// 回合级取消/超时直接上抛，不再尝试其余候选。
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "会话回合被取消或超时")
		}
		// 只有可重试的后端级失败才降级，其余错误直接上抛。
		if !xerrors.IsRetryable(err) {
			return nil, err
		}

		metrics.ObserveProviderAttempt(candidate.Name, false)
		a.log.Warn("推理候选失败，尝试下一个",
			slog.String("turn_id", turnID),
			slog.String("candidate", candidate.Name),
			slog.Any("error", err),
		)
		a.alert(ctx, alerting.Event{
			Code:      xerrors.CodeProviderFailure,
			Message:   err.Error(),
			Severity:  xerrors.SeverityWarning,
			TurnID:    turnID,
			Candidate: candidate.Name,
		})
	}

	err := xerrors.New(xerrors.CodeProvidersExhausted, "所有推理候选均失败")
	a.alert(ctx, alerting.Event{
		Code:     xerrors.CodeProvidersExhausted,
		Message:  err.Message(),
		Severity: xerrors.SeverityCritical,
		TurnID:   turnID,
	})
	return nil, err
}

// attempt 针对单个候选执行完整的回合协议。
func (a *Agent) attempt(ctx context.Context, candidate llm.Candidate, messages []llm.Message) (*TurnResult, error) {
	request := llm.Request{
		System:   llm.SystemInstruction,
		Tools:    []llm.Tool{llm.PaymentTool()},
		Messages: messages,
	}

	reply, err := a.call(ctx, candidate, request)
	if err != nil {
		return nil, err
	}

	switch reply.Kind {
	case llm.KindText:
		return &TurnResult{Reply: reply.Text}, nil

	case llm.KindToolCall:
		call := reply.Call
		if !llm.IsPaymentTool(call.Name) {
			return nil, xerrors.New(xerrors.CodeProviderFailure,
				fmt.Sprintf("后端调用了未声明的工具: %s", call.Name))
		}
		return a.settleToolCall(ctx, candidate, request, call)

	default:
		return nil, xerrors.New(xerrors.CodeProviderFailure,
			fmt.Sprintf("未知的回复变体: %d", reply.Kind))
	}
}

// settleToolCall 执行转账意图并把结果回传给同一候选，取其后续的
// 自然语言回复作为回合产出。
func (a *Agent) settleToolCall(ctx context.Context, candidate llm.Candidate, request llm.Request, call llm.ToolCall) (*TurnResult, error) {
	to := call.Args["to"]
	amount := call.Args["amount"]

	details := &TxDetails{To: to, Amount: amount}
	submitted := false

	outcome, err := a.executor.ExecuteIntent(ctx, to, amount)
	switch {
	case err == nil:
		details.Output = outcome.Message
		analysis := outcome.Assessment
		details.Analysis = &analysis
		// BROADCASTED 与 FAILED_EVM 都意味着结算边界已被触达；
		// FAILED_EVM 可能是确认超时这类结果未知的失败，转账仍可能落账。
		submitted = outcome.Status == risk.StatusBroadcasted || outcome.Status == risk.StatusFailedEVM
	case xerrors.CodeOf(err) == xerrors.CodeInvalidArgument:
		// 清洗失败：意图被拒绝，但回合继续，拒绝原因回传给后端。
		details.Output = fmt.Sprintf("[REJECTED] %v", err)
	default:
		return nil, err
	}

	request.Messages = append(request.Messages,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: details.Output},
	)

	reply, err := a.call(ctx, candidate, request)
	if err != nil {
		if submitted {
			// 结算边界已被触达，降级重试会造成重复提交；用结算结果
			// 本身收尾，结果绝不丢弃。
			a.log.Warn("工具结果回传失败，使用结算结果收尾",
				slog.String("candidate", candidate.Name), slog.Any("error", err))
			return &TurnResult{
				Reply:   details.Output,
				Action:  ActionTxAttempt,
				Details: details,
			}, nil
		}
		return nil, err
	}
	if reply.Kind != llm.KindText {
		return nil, xerrors.New(xerrors.CodeProviderFailure, "工具结果回传后未收到文本回复")
	}

	return &TurnResult{
		Reply:   reply.Text,
		Action:  ActionTxAttempt,
		Details: details,
	}, nil
}

func (a *Agent) call(ctx context.Context, candidate llm.Candidate, request llm.Request) (*llm.Reply, error) {
	callCtx := ctx
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}
	return candidate.Client.Chat(callCtx, request)
}

func (a *Agent) alert(ctx context.Context, event alerting.Event) {
	if a.alerter == nil {
		return
	}
	if err := a.alerter.Notify(ctx, event); err != nil {
		a.log.Warn("派发告警事件失败", slog.Any("error", err))
	}
}
