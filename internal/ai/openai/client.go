// Package openai is an ai.Client for OpenAI-compatible chat completion
// endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/programmerrush/InsightDB-api/internal/ai"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/logger"
)

// Config configures the endpoint.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultConfig returns the public OpenAI endpoint settings without a key.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4o-mini",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
		Burst:             2,
	}
}

// Client is safe for concurrent use.
type Client struct {
	http    *resty.Client
	model   string
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ ai.Client = (*Client)(nil)

// New returns a Client. An empty API key is rejected; callers use
// ai.Unconfigured instead.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "openai: api key is required")
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = logger.Nop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: h, model: cfg.Model, limiter: limiter, log: log}, nil
}

type chatRequest struct {
	Model       string       `json:"model"`
	Messages    []ai.Message `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ai.Message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errs.Wrap(errs.ErrKindTimeout, "model request throttled", err)
	}

	msgs := make([]ai.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ai.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	var (
		out    chatResponse
		apiErr errorResponse
	)
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    msgs,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return "", errs.Wrap(errs.ErrKindTimeout, "model request timed out", err)
		}
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "model request failed", err)
	}

	c.log.Ctx(ctx).With().
		Int("status", resp.StatusCode()).
		Str("model", c.model).
		Int("latency_ms", int(time.Since(start).Milliseconds())).
		Logger().
		Debug("model call finished")

	if resp.IsError() {
		return "", mapStatus(resp.StatusCode(), apiErr.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errs.New(errs.ErrKindFormat, "model returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// mapStatus classifies an error response. Throttling is recognised by
// status or by message because some compatible gateways answer 5xx.
func mapStatus(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	text := fmt.Sprintf("model returned %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "rate limit"):
		return errs.New(errs.ErrKindRateLimited, text)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.ErrKindPermissionDenied, text)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return errs.New(errs.ErrKindInvalidInput, text)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return errs.New(errs.ErrKindTimeout, text)
	default:
		return errs.New(errs.ErrKindConnectionFailed, text)
	}
}
