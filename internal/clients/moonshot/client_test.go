package moonshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/yunzhen-health/tcm-advisor/internal/platform/apierr"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestClient(t *testing.T, rt roundTripperFunc) Client {
	t.Helper()
	t.Setenv("MOONSHOT_API_KEY", "sk-test")
	t.Setenv("MOONSHOT_BASE_URL", "http://upstream/v1")
	t.Setenv("MOONSHOT_MODEL", "kimi-test")

	c, err := NewClientWithHTTPClient(logger.NewNop(), &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("NewClientWithHTTPClient: %v", err)
	}
	return c
}

func jsonResponse(status int, body any) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}

func TestChatCompletion_Success(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization=%q", got)
		}

		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if in.Model != "kimi-test" {
			t.Fatalf("model=%q", in.Model)
		}
		if in.Stream {
			t.Fatalf("stream must be false")
		}
		if in.MaxTokens != 2000 {
			t.Fatalf("max_tokens=%d", in.MaxTokens)
		}
		if in.Temperature != 0.7 {
			t.Fatalf("temperature=%v", in.Temperature)
		}

		return jsonResponse(200, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "证型：肝气郁结"}},
			},
		}), nil
	})

	text, err := c.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "你是中医专家"},
		{Role: "user", Content: "头痛"},
	}, ChatOptions{MaxTokens: 2000, Temperature: 0.7})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if text != "证型：肝气郁结" {
		t.Fatalf("text=%q", text)
	}
}

func TestChatCompletion_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, map[string]any{"choices": []any{}}), nil
	})

	text, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if text != "" {
		t.Fatalf("text=%q, want empty", text)
	}
}

func TestChatCompletion_StatusClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     any
		wantCode string
	}{
		{
			name:     "unauthorized",
			status:   401,
			body:     map[string]any{"error": map[string]any{"message": "invalid api key"}},
			wantCode: apierr.CodeInvalidCredential,
		},
		{
			name:     "rate_limited",
			status:   429,
			body:     map[string]any{"error": map[string]any{"message": "rate limit reached"}},
			wantCode: apierr.CodeRateLimited,
		},
		{
			name:     "server_error",
			status:   500,
			body:     map[string]any{"error": map[string]any{"message": "boom"}},
			wantCode: apierr.CodeUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})

			_, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := apierr.CodeOf(err); got != tc.wantCode {
				t.Fatalf("code=%q, want %q", got, tc.wantCode)
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestChatCompletion_TimeoutClassification(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, timeoutError{}
	})

	_, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if !apierr.IsTimeout(err) {
		t.Fatalf("err=%v, want timeout classification", err)
	}
}

func TestChatCompletion_TransportErrorClassification(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if got := apierr.CodeOf(err); got != apierr.CodeUnavailable {
		t.Fatalf("code=%q, want %q", got, apierr.CodeUnavailable)
	}
}

func TestChatCompletion_DropsEmptyMessages(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if len(in.Messages) != 1 {
			t.Fatalf("messages=%d, want 1", len(in.Messages))
		}
		return jsonResponse(200, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		}), nil
	})

	_, err := c.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "  "},
		{Role: "user", Content: "hi"},
	}, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
}
