package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/kernel"
	"ArcFlow/internal/llm"
	"ArcFlow/internal/risk"
)

// scriptedClient 按脚本依次返回回复，耗尽后返回 PROVIDER_FAILURE。
type scriptedClient struct {
	replies  []*llm.Reply
	errs     []error
	requests []llm.Request
}

func (s *scriptedClient) Chat(_ context.Context, req llm.Request) (*llm.Reply, error) {
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.replies) {
		return s.replies[idx], nil
	}
	return nil, xerrors.New(xerrors.CodeProviderFailure, "脚本耗尽")
}

type fakeExecutor struct {
	calls   []string
	outcome *kernel.Outcome
	err     error
}

func (f *fakeExecutor) ExecuteIntent(_ context.Context, rawRecipient, rawAmount string) (*kernel.Outcome, error) {
	f.calls = append(f.calls, rawRecipient+"|"+rawAmount)
	return f.outcome, f.err
}

func textReply(text string) *llm.Reply {
	return &llm.Reply{Kind: llm.KindText, Text: text}
}

func toolReply(id, name, to, amount string) *llm.Reply {
	return &llm.Reply{Kind: llm.KindToolCall, Call: llm.ToolCall{
		ID:   id,
		Name: name,
		Args: map[string]string{"to": to, "amount": amount},
	}}
}

func TestChatTextTurn(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Reply{textReply("你好！")}}
	ag := New([]llm.Candidate{{Name: "primary", Client: client}}, &fakeExecutor{})

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "你好！" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.Candidate != "primary" {
		t.Fatalf("unexpected candidate: %q", result.Candidate)
	}
	if result.TurnID == "" {
		t.Fatalf("turn id must be assigned")
	}
	if result.Action != "" || result.Details != nil {
		t.Fatalf("text turn must not carry tx metadata: %+v", result)
	}
}

func TestChatFallsBackToNextCandidate(t *testing.T) {
	failing := &scriptedClient{errs: []error{xerrors.New(xerrors.CodeProviderFailure, "配额耗尽")}}
	backup := &scriptedClient{replies: []*llm.Reply{textReply("ok")}}
	ag := New([]llm.Candidate{
		{Name: "primary", Client: failing},
		{Name: "backup", Client: backup},
	}, &fakeExecutor{})

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Candidate != "backup" {
		t.Fatalf("expected backup candidate, got %q", result.Candidate)
	}
	if len(failing.requests) != 1 {
		t.Fatalf("primary should be tried exactly once, got %d", len(failing.requests))
	}
}

func TestChatProvidersExhausted(t *testing.T) {
	a := &scriptedClient{errs: []error{xerrors.New(xerrors.CodeProviderFailure, "a 挂了")}}
	b := &scriptedClient{errs: []error{xerrors.New(xerrors.CodeProviderFailure, "b 挂了")}}
	ag := New([]llm.Candidate{
		{Name: "a", Client: a},
		{Name: "b", Client: b},
	}, &fakeExecutor{})

	_, err := ag.Chat(context.Background(), TurnRequest{Message: "hi"})
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeProvidersExhausted {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}

func TestChatToolCallRoundtrip(t *testing.T) {
	assessment := risk.Assessment{Score: 0, Status: risk.StatusBroadcasted}
	exec := &fakeExecutor{outcome: &kernel.Outcome{
		Status:     risk.StatusBroadcasted,
		Message:    "[SUCCESS] TX_HASH: 0xabc",
		TxHash:     "0xabc",
		Assessment: assessment,
		Amount:     decimal.RequireFromString("0.1"),
	}}
	client := &scriptedClient{replies: []*llm.Reply{
		toolReply("call_1", llm.PaymentToolName, "0x9374...", "0.1 USDC"),
		textReply("已为你完成转账。"),
	}}
	ag := New([]llm.Candidate{{Name: "primary", Client: client}}, exec)

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "pay the vendor"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != ActionTxAttempt {
		t.Fatalf("unexpected action: %q", result.Action)
	}
	if result.Reply != "已为你完成转账。" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.Details == nil || result.Details.Output != "[SUCCESS] TX_HASH: 0xabc" {
		t.Fatalf("unexpected details: %+v", result.Details)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "0x9374...|0.1 USDC" {
		t.Fatalf("unexpected executor calls: %v", exec.calls)
	}

	// 第二次请求必须带上 assistant 的工具调用与对应的工具结果消息。
	if len(client.requests) != 2 {
		t.Fatalf("expected two backend calls, got %d", len(client.requests))
	}
	second := client.requests[1].Messages
	if len(second) < 3 {
		t.Fatalf("follow-up request too short: %d messages", len(second))
	}
	toolMsg := second[len(second)-1]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if toolMsg.Content != "[SUCCESS] TX_HASH: 0xabc" {
		t.Fatalf("unexpected tool result content: %q", toolMsg.Content)
	}
	assistantMsg := second[len(second)-2]
	if assistantMsg.Role != llm.RoleAssistant || len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("unexpected assistant message: %+v", assistantMsg)
	}
}

func TestChatToolCallRejectedInput(t *testing.T) {
	exec := &fakeExecutor{err: xerrors.New(xerrors.CodeInvalidArgument, "金额无法解析")}
	client := &scriptedClient{replies: []*llm.Reply{
		toolReply("call_1", llm.PaymentToolAlias, "0x9374...", "много"),
		textReply("这笔金额我没看懂，请换种写法。"),
	}}
	ag := New([]llm.Candidate{{Name: "primary", Client: client}}, exec)

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "pay"})
	if err != nil {
		t.Fatalf("rejected input must not fail the turn: %v", err)
	}
	if !strings.HasPrefix(result.Details.Output, "[REJECTED]") {
		t.Fatalf("unexpected output: %q", result.Details.Output)
	}
	if len(client.requests) != 2 {
		t.Fatalf("rejection must be relayed to the backend, got %d calls", len(client.requests))
	}
}

func TestChatNoFailoverAfterBroadcast(t *testing.T) {
	exec := &fakeExecutor{outcome: &kernel.Outcome{
		Status:  risk.StatusBroadcasted,
		Message: "[SUCCESS] TX_HASH: 0xabc",
		TxHash:  "0xabc",
	}}
	primary := &scriptedClient{
		replies: []*llm.Reply{toolReply("call_1", llm.PaymentToolName, "0x9374...", "0.1")},
		errs:    []error{nil, xerrors.New(xerrors.CodeProviderFailure, "回传超时")},
	}
	backup := &scriptedClient{replies: []*llm.Reply{textReply("should never run")}}
	ag := New([]llm.Candidate{
		{Name: "primary", Client: primary},
		{Name: "backup", Client: backup},
	}, exec)

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "pay"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "[SUCCESS] TX_HASH: 0xabc" {
		t.Fatalf("turn must close with the settlement output, got %q", result.Reply)
	}
	if len(backup.requests) != 0 {
		t.Fatalf("broadcasted turn must not fail over, backup got %d calls", len(backup.requests))
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(exec.calls))
	}
}

func TestChatNoFailoverAfterFailedSubmission(t *testing.T) {
	// FAILED_EVM 同样意味着结算边界已被触达（确认超时时转账仍可能
	// 落账），回传失败后换候选重跑工具调用会造成重复提交。
	exec := &fakeExecutor{outcome: &kernel.Outcome{
		Status:  risk.StatusFailedEVM,
		Message: "[ERROR] RPC Rejection: 等待确认超时",
	}}
	primary := &scriptedClient{
		replies: []*llm.Reply{toolReply("call_1", llm.PaymentToolName, "0x9374...", "0.1")},
		errs:    []error{nil, xerrors.New(xerrors.CodeProviderFailure, "回传超时")},
	}
	backup := &scriptedClient{replies: []*llm.Reply{textReply("should never run")}}
	ag := New([]llm.Candidate{
		{Name: "primary", Client: primary},
		{Name: "backup", Client: backup},
	}, exec)

	result, err := ag.Chat(context.Background(), TurnRequest{Message: "pay"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "[ERROR] RPC Rejection: 等待确认超时" {
		t.Fatalf("turn must close with the settlement output, got %q", result.Reply)
	}
	if len(backup.requests) != 0 {
		t.Fatalf("failed submission must not fail over, backup got %d calls", len(backup.requests))
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected exactly one submission attempt, got %d", len(exec.calls))
	}
}

func TestChatNonRetryableErrorBubbles(t *testing.T) {
	failing := &scriptedClient{errs: []error{xerrors.New(xerrors.CodeInitializationFailure, "候选未初始化")}}
	backup := &scriptedClient{replies: []*llm.Reply{textReply("should never run")}}
	ag := New([]llm.Candidate{
		{Name: "primary", Client: failing},
		{Name: "backup", Client: backup},
	}, &fakeExecutor{})

	_, err := ag.Chat(context.Background(), TurnRequest{Message: "hi"})
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("non-retryable error must bubble, got %v", err)
	}
	if len(backup.requests) != 0 {
		t.Fatalf("non-retryable error must not fail over, backup got %d calls", len(backup.requests))
	}
}

func TestChatEmptyMessage(t *testing.T) {
	ag := New([]llm.Candidate{{Name: "primary", Client: &scriptedClient{}}}, &fakeExecutor{})
	if _, err := ag.Chat(context.Background(), TurnRequest{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}
