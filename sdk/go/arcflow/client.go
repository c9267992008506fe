package arcflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the ArcFlow conversational API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// HistoryMessage is one prior exchange supplied by the caller; the server
// keeps no conversation state between requests.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload for one conversational turn.
type ChatRequest struct {
	Message string           `json:"message"`
	History []HistoryMessage `json:"history,omitempty"`
}

// Analysis mirrors the risk assessment attached to a transfer attempt.
type Analysis struct {
	RiskScore int       `json:"risk_score"`
	Factors   []string  `json:"factors"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// TxDetails carries the structured metadata of a transfer attempt.
type TxDetails struct {
	To       string    `json:"to"`
	Amount   string    `json:"amount"`
	Output   string    `json:"output"`
	Analysis *Analysis `json:"analysis,omitempty"`
}

// ChatResponse is the outcome of one conversational turn.
type ChatResponse struct {
	TurnID    string     `json:"turn_id"`
	Candidate string     `json:"candidate"`
	Reply     string     `json:"reply"`
	Action    string     `json:"action,omitempty"`
	Details   *TxDetails `json:"details,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("arcflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ArcFlow API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat runs one conversational turn against the server.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	endpoint := c.baseURL.JoinPath("/api/chat")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(body))
		}
		return nil, apiErr
	}

	var decoded ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &decoded, nil
}
