package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/digkill/SiteGenerator/internal/config"
)

// ErrRefused is returned when the model answers with an "Error:" message instead of code.
var ErrRefused = errors.New("generator returned an error message")

const systemPrompt = `You are a senior front-end developer. Build a complete, responsive, single-page website
from the user's description. Reply with one self-contained HTML document: CSS in a <style> tag,
JavaScript in a <script> tag, no external build steps. Reply with the code only.
If the request cannot be fulfilled, reply with a single line starting with "Error:".`

// Response bodies are capped relative to the token budget.
const (
	bytesPerToken    = 16
	minResponseBytes = 64 << 10
	defaultMaxTokens = 8192
)

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.AIRequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ai-generator",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRefused)
		},
	})

	return &Client{
		apiKey:    cfg.AIAPIKey,
		baseURL:   strings.TrimRight(cfg.AIBaseURL, "/"),
		model:     cfg.AIModel,
		maxTokens: cfg.AIMaxTokens,
		timeout:   timeout,
		httpClient: &http.Client{
			Timeout: timeout + 5*time.Second,
		},
		breaker: breaker,
		log:     log,
	}
}

// GenerateSite turns a prompt into an HTML document. Any failure, including an
// open breaker or an "Error:" reply, is returned as an error.
func (c *Client) GenerateSite(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.breaker.Execute(func() (string, error) {
		return c.complete(ctx, prompt)
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post chat completion: %w", err)
	}
	defer resp.Body.Close()

	limit := c.responseLimit()
	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(rawBody)) > limit {
		return "", fmt.Errorf("ai response exceeds %d bytes", limit)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("chat completion failed", "status", resp.StatusCode, "url", endpoint, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("ai error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion: %w (body=%s)", err, truncateBody(rawBody))
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("ai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion")
	}

	code := stripCodeFence(parsed.Choices[0].Message.Content)
	if code == "" {
		return "", fmt.Errorf("empty content in chat completion")
	}
	if strings.HasPrefix(code, "Error:") {
		return "", fmt.Errorf("%w: %s", ErrRefused, truncateBody([]byte(code)))
	}

	if c.log != nil {
		c.log.Info("chat completion received", "model", c.model, "bytes", len(code), "elapsed", time.Since(started).String())
	}
	return code, nil
}

// stripCodeFence removes a surrounding ```html ... ``` block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func (c *Client) responseLimit() int64 {
	tokens := c.maxTokens
	if tokens <= 0 {
		tokens = defaultMaxTokens
	}
	limit := int64(tokens) * bytesPerToken
	if limit < minResponseBytes {
		limit = minResponseBytes
	}
	return limit
}
