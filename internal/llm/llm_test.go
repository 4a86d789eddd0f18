// ABOUTME: Tests for the model invokers against a local Messages API stand-in.
// ABOUTME: Covers request shape, response mapping, API errors, timeouts and the dry-run path.

package llm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-plugins/internal/assembler"
	"github.com/2389/coven-plugins/internal/config"
	"github.com/2389/coven-plugins/internal/dispatch"
)

const messageResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [{"type": "text", "text": "Standard mutual NDA."}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 6}
}`

func testPayload() *dispatch.Payload {
	return &dispatch.Payload{
		InvocationID:  "inv-1",
		Command:       "legal:triage-nda",
		SystemContext: "## Skills\n\n### nda-basics (legal)\n\nMutual NDAs bind both parties.",
		UserTurn:      "/legal:triage-nda\n\nReview this NDA:\n\nAcme and Globex agree...",
		Context: &assembler.AssembledContext{
			IncludedPluginIDs: []string{"legal"},
			EstimatedTokens:   17,
		},
	}
}

func modelConfig() config.ModelConfig {
	return config.ModelConfig{
		Provider:  config.ProviderAnthropic,
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
		Timeout:   5 * time.Second,
	}
}

func TestAnthropicInvoker_Invoke(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageResponse)
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker("test-key", modelConfig(), nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	resp, err := inv.Invoke(t.Context(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, "Standard mutual NDA.", resp.Text)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(120), resp.InputTokens)
	assert.Equal(t, int64(6), resp.OutputTokens)

	assert.Equal(t, "claude-sonnet-4-5", got["model"])
	assert.EqualValues(t, 1024, got["max_tokens"])

	system, ok := got["system"].([]any)
	require.True(t, ok, "system should be a list of text blocks")
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "nda-basics")

	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	content := msg["content"].([]any)
	assert.Contains(t, content[0].(map[string]any)["text"], "Acme and Globex")
}

func TestAnthropicInvoker_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker("test-key", modelConfig(), nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := inv.Invoke(t.Context(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude-sonnet-4-5")
}

func TestAnthropicInvoker_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, strings.Replace(messageResponse,
			`[{"type": "text", "text": "Standard mutual NDA."}]`, `[]`, 1))
	}))
	defer srv.Close()

	inv := NewAnthropicInvoker("test-key", modelConfig(), nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := inv.Invoke(t.Context(), testPayload())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicInvoker_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := modelConfig()
	cfg.Timeout = 50 * time.Millisecond
	inv := NewAnthropicInvoker("test-key", cfg, nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	start := time.Now()
	_, err := inv.Invoke(t.Context(), testPayload())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDryRunInvoker(t *testing.T) {
	resp, err := NewDryRunInvoker(nil).Invoke(t.Context(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, config.ProviderDryRun, resp.Model)
	assert.Contains(t, resp.Text, "[dry run] legal:triage-nda")
	assert.Contains(t, resp.Text, "~17 tokens from legal")
	assert.Contains(t, resp.Text, "Acme and Globex")
	assert.NotContains(t, resp.Text, "(truncated)")
}

func TestNew(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	inv, err := New(config.ModelConfig{Provider: config.ProviderDryRun}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DryRunInvoker{}, inv)

	_, err = New(config.ModelConfig{Provider: config.ProviderAnthropic}, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	inv, err = New(modelConfig(), nil)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicInvoker{}, inv)

	_, err = New(config.ModelConfig{Provider: "openai"}, nil)
	assert.Error(t, err)
}
