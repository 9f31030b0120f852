// Package moonshot talks to an OpenAI-compatible chat-completions endpoint.
// It is the only place that knows HTTP; everything above it sees classified
// apierr values and plain completion text.
package moonshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yunzhen-health/tcm-advisor/internal/platform/apierr"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/utils"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// Client is the AI chat endpoint consumed by the advisory service. A call
// returns the completion text (possibly empty when the model answered with
// no content) or a classified error. No retries happen at this layer.
type Client interface {
	ChatCompletion(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
	Model() string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	serviceLog := log.With("service", "MoonshotClient")

	apiKey := strings.TrimSpace(utils.GetEnv("MOONSHOT_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing MOONSHOT_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(utils.GetEnv("MOONSHOT_BASE_URL", "https://api.moonshot.cn/v1", log)), "/")
	model := strings.TrimSpace(utils.GetEnv("MOONSHOT_MODEL", "kimi-k2-0905-preview", log))
	timeoutSec := utils.GetEnvAsInt("MOONSHOT_TIMEOUT_SECONDS", 30, log)
	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &client{
		log:        serviceLog,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		timeout:    time.Duration(timeoutSec) * time.Second,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewClientWithHTTPClient is intended for tests; it avoids network access by
// using a custom RoundTripper.
func NewClientWithHTTPClient(log *logger.Logger, httpClient *http.Client) (Client, error) {
	c, err := NewClient(log)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.(*client).httpClient = httpClient
	}
	return c, nil
}

func (c *client) Model() string { return c.model }

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
	} `json:"choices"`
}

type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *client) ChatCompletion(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Role) == "" || strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return "", apierr.Newf(apierr.CodePrecondition, 0, "no messages")
	}

	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      false,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, "POST", c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, raw)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apierr.Newf(apierr.CodeUnavailable, resp.StatusCode, "AI服务暂时不可用: %v", err)
	}

	c.log.Debug("Chat completion finished",
		"model", c.model,
		"latency", time.Since(started).String(),
		"status", resp.StatusCode,
	)

	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// classifyStatus maps upstream HTTP failures onto the caller-facing taxonomy.
// These are terminal: the advisory layer never retries them.
func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return apierr.Newf(apierr.CodeInvalidCredential, status, "API密钥无效，请检查配置")
	case http.StatusTooManyRequests:
		return apierr.Newf(apierr.CodeRateLimited, status, "请求过于频繁，请稍后再试")
	default:
		msg := upstreamMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return apierr.Newf(apierr.CodeUnavailable, status, "AI服务暂时不可用: %s", msg)
	}
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return apierr.New(apierr.CodeTimeout, 0, fmt.Errorf("请求超时，请检查网络连接: %w", err))
	}
	return apierr.New(apierr.CodeUnavailable, 0, fmt.Errorf("AI服务暂时不可用: %w", err))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func upstreamMessage(body []byte) string {
	var b upstreamErrorBody
	if err := json.Unmarshal(body, &b); err != nil {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(b.Error.Message)
}
