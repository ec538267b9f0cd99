// Package anthropic is the Messages API adapter used for reply
// generation and tool selection.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/resilience"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
	maxHistory       = 20
)

type Adapter struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	// System is the persona prompt prepended to every call. Memories are
	// appended to it per request.
	System string
	Client *http.Client
}

func NewAdapter(apiKey, model, system string) *Adapter {
	return &Adapter{
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: defaultMaxTokens,
		BaseURL:   defaultBaseURL,
		System:    system,
		Client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := buildMessages(req)
	return a.call(ctx, req, messages)
}

// ChatWithToolResults folds one round of tool results: the first
// response's text and tool_use blocks are replayed as the assistant
// turn, followed by a user turn of tool_result blocks. No tools are
// offered on this call, so the round-trip depth stays at one.
func (a *Adapter) ChatWithToolResults(ctx context.Context, req llm.Request, first llm.Response, results []llm.ToolResult) (llm.Response, error) {
	messages := buildMessages(req)

	assistant := []map[string]any{}
	if strings.TrimSpace(first.Text) != "" {
		assistant = append(assistant, map[string]any{"type": "text", "text": first.Text})
	}
	for _, call := range first.ToolCalls {
		assistant = append(assistant, map[string]any{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Name,
			"input": call.Arguments,
		})
	}
	messages = append(messages, map[string]any{"role": "assistant", "content": assistant})

	var folded []map[string]any
	for _, res := range results {
		folded = append(folded, map[string]any{
			"type":        "tool_result",
			"tool_use_id": res.CallID,
			"content":     res.Content,
		})
	}
	messages = append(messages, map[string]any{"role": "user", "content": folded})

	finalReq := req
	finalReq.Tools = nil
	return a.call(ctx, finalReq, messages)
}

func buildMessages(req llm.Request) []map[string]any {
	history := req.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	messages := make([]map[string]any, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Message})
	return messages
}

func (a *Adapter) call(ctx context.Context, req llm.Request, messages []map[string]any) (llm.Response, error) {
	body, err := a.buildRequest(req, messages)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/messages", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(httpReq)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, resilience.RateLimitError{Provider: "anthropic", Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, errors.New(string(body))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, err
	}
	return decodeResponse(payload)
}

func (a *Adapter) buildRequest(req llm.Request, messages []map[string]any) (*bytes.Buffer, error) {
	payload := map[string]any{
		"model":      a.Model,
		"max_tokens": a.maxTokens(),
		"system":     a.systemPrompt(req.Memories),
		"messages":   messages,
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Schema,
			})
		}
		payload["tools"] = tools
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) systemPrompt(memories []string) string {
	var sb strings.Builder
	sb.WriteString(a.System)
	if len(memories) > 0 {
		sb.WriteString("\n\n## What you know about the user\n")
		for _, m := range memories {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func decodeResponse(payload map[string]any) (llm.Response, error) {
	blocks, _ := payload["content"].([]any)
	if blocks == nil {
		return llm.Response{}, errors.New("missing content blocks")
	}
	var resp llm.Response
	var text strings.Builder
	for _, item := range blocks {
		block, _ := item.(map[string]any)
		switch block["type"] {
		case "text":
			t, _ := block["text"].(string)
			text.WriteString(t)
		case "tool_use":
			args, _ := block["input"].(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        stringValue(block["id"]),
				Name:      stringValue(block["name"]),
				Arguments: args,
			})
		}
	}
	resp.Text = text.String()
	resp.StopReason = stringValue(payload["stop_reason"])
	if usage, ok := payload["usage"].(map[string]any); ok {
		resp.Usage.InputTokens = intValue(usage["input_tokens"])
		resp.Usage.OutputTokens = intValue(usage["output_tokens"])
	}
	return resp, nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (a *Adapter) baseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return defaultBaseURL
}

func (a *Adapter) maxTokens() int {
	if a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return defaultMaxTokens
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}

var _ llm.Adapter = (*Adapter)(nil)
