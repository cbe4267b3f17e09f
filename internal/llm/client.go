// Package llm provides the chat-completion client the engine calls through
// its resilience layer. Retry policy lives in internal/resilience, not here.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/vulnscan/internal/resilience"
	"github.com/yourorg/vulnscan/pkg/types"
)

// CompletionRequest is one prompt submitted to the backend.
type CompletionRequest struct {
	SystemPrompt   string
	UserPrompt     string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // e.g. "json_object", empty for default
}

// CompletionResponse is the raw model output plus token usage when reported.
type CompletionResponse struct {
	Content string
	Usage   types.Usage
}

// Client is the upstream LLM boundary.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Provider() string
	Model() string
}

// HTTPClient is an OpenAI-compatible chat completions client.
type HTTPClient struct {
	BaseURL      string
	APIKey       string
	ModelName    string
	ProviderName string
	HTTP         *http.Client
	Logger       *slog.Logger
}

func (c *HTTPClient) Provider() string {
	if c.ProviderName == "" {
		return "openai"
	}
	return c.ProviderName
}

func (c *HTTPClient) Model() string { return c.ModelName }

// Complete performs a single chat completion call. Failures are classified
// into resilience error kinds; no retrying happens at this layer.
func (c *HTTPClient) Complete(ctx context.Context, reqData CompletionRequest) (CompletionResponse, error) {
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 300 * time.Second}
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"

	payload := map[string]interface{}{
		"model":       c.ModelName,
		"max_tokens":  reqData.MaxTokens,
		"temperature": reqData.Temperature,
		"messages": []map[string]string{
			{"role": "system", "content": reqData.SystemPrompt},
			{"role": "user", "content": reqData.UserPrompt},
		},
	}
	if reqData.ResponseFormat != "" {
		payload["response_format"] = map[string]string{"type": reqData.ResponseFormat}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CompletionResponse{}, err
	}
	if c.Logger != nil {
		c.Logger.Debug("llm request", "url", endpoint, "model", c.ModelName, "prompt_chars", len(reqData.UserPrompt))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return CompletionResponse{}, &resilience.UpstreamError{Kind: resilience.KindTimeout, Msg: err.Error()}
		}
		return CompletionResponse{}, err
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return CompletionResponse{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CompletionResponse{}, &resilience.UpstreamError{
			Kind:       resilience.ClassifyStatus(resp.StatusCode),
			Status:     resp.StatusCode,
			Msg:        strings.TrimSpace(string(data)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return CompletionResponse{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(out.Choices) == 0 {
		return CompletionResponse{}, errors.New("llm response has no choices")
	}

	content := out.Choices[0].Message.Content
	if c.Logger != nil {
		c.Logger.Debug("llm response", "content_chars", len(content), "total_tokens", out.Usage.TotalTokens)
	}
	return CompletionResponse{
		Content: content,
		Usage: types.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// parseRetryAfter reads a Retry-After header as delay seconds or an HTTP
// date. Returns zero when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
