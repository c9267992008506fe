package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Config 描述调用 Chat Completions 风格接口所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的推理后端，支持函数调用。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供推理后端 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未指定推理模型")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Chat 发送一次推理请求并解析回复变体。所有传输、鉴权与解析失败
// 都以 PROVIDER_FAILURE 上抛，供编排层降级到下一个候选。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "构建推理请求失败")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "请求推理后端失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeProviderFailure,
			fmt.Sprintf("推理后端返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("model", c.model))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "解析推理响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeProviderFailure, "推理响应中没有有效的 choices")
	}

	message := decoded.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0]
		args, err := decodeArguments(call.Function.Arguments)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "解析工具调用参数失败")
		}
		return &llm.Reply{
			Kind: llm.KindToolCall,
			Call: llm.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: args,
			},
		}, nil
	}

	content := strings.TrimSpace(message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeProviderFailure, "推理响应内容为空")
	}
	return &llm.Reply{Kind: llm.KindText, Text: content}, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type toolCallPayload struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	type message struct {
		Role       string            `json:"role"`
		Content    string            `json:"content"`
		ToolCalls  []toolCallPayload `json:"tool_calls,omitempty"`
		ToolCallID string            `json:"tool_call_id,omitempty"`
	}

	messages := make([]message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, message{Role: llm.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		converted := message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			payload := toolCallPayload{ID: call.ID, Type: "function"}
			payload.Function.Name = call.Name
			encoded, err := json.Marshal(call.Args)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "序列化工具调用参数失败")
			}
			payload.Function.Arguments = string(encoded)
			converted.ToolCalls = append(converted.ToolCalls, payload)
		}
		messages = append(messages, converted)
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			properties := make(map[string]any, len(tool.Params))
			required := make([]string, 0, len(tool.Params))
			for _, param := range tool.Params {
				properties[param.Name] = map[string]any{
					"type":        "string",
					"description": param.Description,
				}
				if param.Required {
					required = append(required, param.Name)
				}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters": map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   required,
					},
				},
			})
		}
		body["tools"] = tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "序列化推理请求失败")
	}
	return encoded, nil
}

// decodeArguments 将后端返回的 JSON 参数统一转换为字符串映射。
func decodeArguments(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	args := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			args[key] = v
		default:
			args[key] = fmt.Sprintf("%v", v)
		}
	}
	return args, nil
}
