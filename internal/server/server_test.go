package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"hf-gateway/internal/apierr"
	"hf-gateway/internal/config"
	"hf-gateway/internal/gateway"
	"hf-gateway/internal/models"
	"hf-gateway/internal/provider/factory"
	"hf-gateway/internal/translator"
)

const serverToken = "hf_servertoken1234567"

type upstream struct {
	*httptest.Server
	calls    atomic.Int32
	lastAuth atomic.Value
	lastBody atomic.Value
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	up := &upstream{}
	up.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.calls.Add(1)
		up.lastAuth.Store(r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		up.lastBody.Store(string(body))
		handler(w, r)
	}))
	t.Cleanup(up.Close)
	return up
}

func newTestServer(t *testing.T, up *upstream, mutate ...func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Defaults()
	cfg.Upstream.BaseURL = up.URL
	cfg.Upstream.Token = serverToken
	cfg.Upstream.Timeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := factory.NewProvider(cfg)
	require.NoError(t, err)

	tr := translator.New(translator.Options{
		DefaultModel:     cfg.Models.Default,
		Aliases:          cfg.Models.Aliases,
		ReasoningMarkers: cfg.Models.ReasoningMarkers,
	})
	gw, err := gateway.New(p, tr, cfg.Upstream.Timeout, logger)
	require.NoError(t, err)

	srv, err := New(cfg, gw, apierr.NewMapper(logger, cfg.Upstream.Token), "test")
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorEnvelope {
	t.Helper()
	var env models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func sseUnits(body string) []string {
	var units []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		units = append(units, strings.TrimPrefix(block, "data: "))
	}
	return units
}

func writeSSE(w http.ResponseWriter, units ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, u := range units {
		fmt.Fprintf(w, "data: %s\n\n", u)
		w.(http.Flusher).Flush()
	}
}

const helloBody = `{"model":"my-model","messages":[{"role":"user","content":"Hello"}]}`

func TestRootAndHealth(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, func(http.ResponseWriter, *http.Request) {}))

	rec := do(srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hf-gateway", gjson.Get(rec.Body.String(), "name").String())
	assert.Equal(t, "/v1/chat/completions", gjson.Get(rec.Body.String(), "endpoints.chat_completions").String())

	rec = do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	_, err := time.Parse(time.RFC3339, gjson.Get(rec.Body.String(), "timestamp").String())
	assert.NoError(t, err)
}

func TestChatCompletions(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"up-1","created":1700000000,"model":"my-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}
		}`)
	})
	srv := newTestServer(t, up)

	rec := do(srv, http.MethodPost, "/v1/chat/completions", helloBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.ClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ObjectChatCompletion, resp.Object)
	assert.Equal(t, "my-model", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, models.FinishStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	sent := up.lastBody.Load().(string)
	assert.Equal(t, "my-model", gjson.Get(sent, "model").String())
	assert.Equal(t, "Hello", gjson.Get(sent, "messages.0.content").String())
	assert.False(t, gjson.Get(sent, "temperature").Exists())
	assert.Equal(t, "Bearer "+serverToken, up.lastAuth.Load())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestChatCompletionsClientCredential(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})
	srv := newTestServer(t, up)

	rec := do(srv, http.MethodPost, "/v1/chat/completions", helloBody, "Authorization", "Bearer hf_clienttoken")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer hf_clienttoken", up.lastAuth.Load())
}

func TestChatCompletionsInvalidRequest(t *testing.T) {
	up := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	srv := newTestServer(t, up)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty messages", body: `{"model":"m","messages":[]}`},
		{name: "unknown role", body: `{"messages":[{"role":"robot","content":"hi"}]}`},
		{name: "temperature out of range", body: `{"messages":[{"role":"user","content":"hi"}],"temperature":3}`},
		{name: "malformed json", body: `{"messages":`},
		{name: "empty body", body: ``},
		{name: "trailing data", body: `{"messages":[{"role":"user","content":"hi"}]} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/v1/chat/completions", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, models.ErrorInvalidRequest, decodeEnvelope(t, rec).Error.Type)
		})
	}
	assert.Zero(t, up.calls.Load())
}

func TestChatCompletionsBodyTooLarge(t *testing.T) {
	up := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	srv := newTestServer(t, up)

	body := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", maxBodyBytes) + `"}]}`
	rec := do(srv, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, models.ErrorInvalidRequest, env.Error.Type)
	assert.Equal(t, "request_too_large", env.Error.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, func(http.ResponseWriter, *http.Request) {}))

	rec := do(srv, http.MethodGet, "/v1/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, models.ErrorInvalidRequest, env.Error.Type)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestChatCompletionsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantType   models.ErrorType
	}{
		{
			name:       "auth",
			status:     http.StatusUnauthorized,
			body:       `{"error":"Invalid credentials in Authorization header Bearer ` + serverToken + `"}`,
			wantStatus: http.StatusUnauthorized,
			wantType:   models.ErrorUpstream,
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"message":"rate limit reached","type":"rate_limit_error"}}`,
			wantStatus: http.StatusTooManyRequests,
			wantType:   models.ErrorRateLimited,
		},
		{
			name:       "unavailable",
			status:     http.StatusServiceUnavailable,
			body:       `model is loading`,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   models.ErrorUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			srv := newTestServer(t, up)

			rec := do(srv, http.MethodPost, "/v1/chat/completions", helloBody)
			require.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, tt.wantType, env.Error.Type)
			assert.NotContains(t, rec.Body.String(), serverToken)
		})
	}
}

func TestChatCompletionsMalformedUpstreamResponse(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	})
	srv := newTestServer(t, up)

	rec := do(srv, http.MethodPost, "/v1/chat/completions", helloBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, models.ErrorInternal, env.Error.Type)
	assert.Equal(t, "internal server error", env.Error.Message)
}

func TestChatCompletionsTimeout(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := newTestServer(t, up, func(cfg *config.Config) {
		cfg.Upstream.Timeout = 100 * time.Millisecond
	})

	rec := do(srv, http.MethodPost, "/v1/chat/completions", helloBody)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, models.ErrorTimeout, decodeEnvelope(t, rec).Error.Type)
}

func TestChatCompletionsStream(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		writeSSE(w,
			`{"id":"up-9","created":1700000000,"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"up-9","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`not json`,
			`{"id":"up-9","choices":[{"index":0,"delta":{},"finish_reason":"eos_token"}]}`,
			`[DONE]`,
		)
	})
	srv := newTestServer(t, up)

	body := `{"model":"my-model","stream":true,"messages":[{"role":"user","content":"Hello"}]}`
	rec := do(srv, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, gjson.Get(up.lastBody.Load().(string), "stream").Bool())

	units := sseUnits(rec.Body.String())
	require.Len(t, units, 4, rec.Body.String())
	assert.Equal(t, "[DONE]", units[3])

	var text strings.Builder
	for _, u := range units[:3] {
		chunk := gjson.Parse(u)
		assert.Equal(t, "up-9", chunk.Get("id").String())
		assert.Equal(t, "my-model", chunk.Get("model").String())
		assert.Equal(t, models.ObjectChatCompletionChunk, chunk.Get("object").String())
		text.WriteString(chunk.Get("choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, "assistant", gjson.Get(units[0], "choices.0.delta.role").String())
	assert.Equal(t, gjson.Null, gjson.Get(units[0], "choices.0.finish_reason").Type)
	assert.Equal(t, "stop", gjson.Get(units[2], "choices.0.finish_reason").String())
}

func TestChatCompletionsStreamConnectionDrop(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(w, `{"id":"up-3","choices":[{"index":0,"delta":{"content":"partial"}}]}`)
	})
	srv := newTestServer(t, up)

	body := `{"model":"my-model","stream":true,"messages":[{"role":"user","content":"Hello"}]}`
	rec := do(srv, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, rec.Code)

	units := sseUnits(rec.Body.String())
	require.Len(t, units, 3, rec.Body.String())
	assert.Equal(t, "partial", gjson.Get(units[0], "choices.0.delta.content").String())
	assert.Equal(t, "up-3", gjson.Get(units[1], "id").String())
	assert.Equal(t, "error", gjson.Get(units[1], "choices.0.finish_reason").String())
	assert.Equal(t, "[DONE]", units[2])
}

func TestChatCompletionsStreamUpstreamRejects(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"not allowed"}`)
	})
	srv := newTestServer(t, up)

	body := `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`
	rec := do(srv, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.ErrorUpstream, decodeEnvelope(t, rec).Error.Type)
}

func TestModels(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"Qwen/Qwen3-8B"},{"id":"deepseek-ai/DeepSeek-R1"}]}`)
	})
	srv := newTestServer(t, up)

	rec := do(srv, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list models.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "Qwen/Qwen3-8B", list.Data[0].ID)
	assert.Equal(t, "huggingface", list.Data[0].OwnedBy)
}

func TestModelsFallback(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := newTestServer(t, up)

	rec := do(srv, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultModel, gjson.Get(rec.Body.String(), "data.0.id").String())
}

func TestCustomAPIPrefix(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	})
	srv := newTestServer(t, up, func(cfg *config.Config) {
		cfg.Server.APIPrefix = "/openai/v1"
	})

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/openai/v1/models", "").Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/v1/models", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, func(http.ResponseWriter, *http.Request) {}))

	do(srv, http.MethodGet, "/health", "")
	rec := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hfgw_requests_total{path="/health",status="200"}`)
}

func TestBearerCredential(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"Bearer hf_abc":     "hf_abc",
		"bearer   hf_abc  ": "hf_abc",
		"Basic dXNlcg==":    "",
		"hf_abc":            "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		assert.Equal(t, want, string(bearerCredential(req)), header)
	}
}
