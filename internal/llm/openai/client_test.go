package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Model: "gpt-4o"}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("missing api key should fail, got %v", err)
	}
	if _, err := NewClient(Config{APIKey: "k"}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("missing model should fail, got %v", err)
	}
}

func TestChatParsesText(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Model != "gpt-4o" {
			t.Errorf("unexpected model: %q", payload.Model)
		}
		if len(payload.Messages) == 0 || payload.Messages[0].Role != llm.RoleSystem {
			t.Errorf("system instruction must lead the messages: %+v", payload.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}]}`))
	})

	reply, err := client.Chat(context.Background(), llm.Request{
		System:   llm.SystemInstruction,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != llm.KindText || reply.Text != "hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestChatParsesToolCall(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[{"id":"call_9","function":{"name":"execute_payment","arguments":"{\"to\":\"0xAbC\",\"amount\":\"0.1 USDC\"}"}}]}}]}`))
	})

	reply, err := client.Chat(context.Background(), llm.Request{
		Tools:    []llm.Tool{llm.PaymentTool()},
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "pay"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != llm.KindToolCall {
		t.Fatalf("unexpected kind: %d", reply.Kind)
	}
	if reply.Call.ID != "call_9" || reply.Call.Name != "execute_payment" {
		t.Fatalf("unexpected call: %+v", reply.Call)
	}
	if reply.Call.Args["to"] != "0xAbC" || reply.Call.Args["amount"] != "0.1 USDC" {
		t.Fatalf("unexpected args: %v", reply.Call.Args)
	}
}

func TestChatHTTPErrorIsProviderFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := client.Chat(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeProviderFailure {
		t.Fatalf("expected PROVIDER_FAILURE, got %v", err)
	}
}

func TestChatEmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Chat(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeProviderFailure {
		t.Fatalf("expected PROVIDER_FAILURE, got %v", err)
	}
}
