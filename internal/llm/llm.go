package llm

import "context"

// 会话消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是一条会话消息，既用于请求历史也用于工具结果回传。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall 是推理后端发出的结构化函数调用请求。
type ToolCall struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// Param 描述工具的一个字符串参数。
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Tool 描述暴露给推理后端的函数。
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// Kind 标记回复变体。回复是封闭的二选一：纯文本或结构化调用，
// 调用方必须对 Kind 做穷尽分支，不得按后端自报的函数名做表驱动分发。
type Kind int

const (
	KindText Kind = iota
	KindToolCall
)

// Reply 是推理后端对一条消息的回复。
type Reply struct {
	Kind Kind
	Text string
	Call ToolCall
}

// Request 描述一次推理调用：系统协议上下文、工具声明与完整消息序列。
type Request struct {
	System   string
	Tools    []Tool
	Messages []Message
}

// Client 定义了调用推理后端的统一接口。实现方在网络、鉴权、配额
// 或模型不支持等后端级失败时返回 PROVIDER_FAILURE 错误码，供编排层
// 顺序降级。
type Client interface {
	Chat(ctx context.Context, req Request) (*Reply, error)
}

// Candidate 是降级序列中的一个推理后端。
type Candidate struct {
	Name   string
	Client Client
}

// SystemInstruction 是会话的系统协议上下文，沿用原始部署的措辞。
const SystemInstruction = `
ROLE: ArcFlow Deterministic Financial Kernel.
NETWORK: Arc Testnet (Circle Infrastructure).

PROTOCOL:
1. OUTPUT_FORMAT: JSON-RPC style brevity. No conversational filler.
2. DATA_STRICTNESS: Extract exact values.
3. TONE: Neutral, efficient, system-level.

INTERACTION_MODEL:
- User: "Send 10 USDC to 0x..."
- System: "INTENT_RECEIVED. Awaiting Authorization."
`

// PaymentToolName 是转账工具的规范名称，PaymentToolAlias 兼容旧部署。
const (
	PaymentToolName  = "execute_payment"
	PaymentToolAlias = "send_payment"
)

// PaymentTool 返回暴露给推理后端的唯一函数声明。
func PaymentTool() Tool {
	return Tool{
		Name:        PaymentToolName,
		Description: "Execute a USDC transfer on Arc Testnet.",
		Params: []Param{
			{Name: "to", Description: "Wallet address (0x...)", Required: true},
			{Name: "amount", Description: "Amount in USDC", Required: true},
		},
	}
}

// IsPaymentTool 判断函数名是否指向转账工具。
func IsPaymentTool(name string) bool {
	return name == PaymentToolName || name == PaymentToolAlias
}
