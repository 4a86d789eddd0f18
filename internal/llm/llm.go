// ABOUTME: Model invokers that turn a dispatched command payload into a model response.
// ABOUTME: AnthropicInvoker calls the Messages API; DryRunInvoker answers locally for offline use.

// Package llm adapts model providers to the dispatcher's Invoker boundary.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/coven-plugins/internal/config"
	"github.com/2389/coven-plugins/internal/dispatch"
)

// ErrNoAPIKey indicates the anthropic provider was selected without a key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrEmptyResponse indicates the model returned no text blocks.
var ErrEmptyResponse = errors.New("model returned no text")

// New builds the invoker selected by cfg.Provider.
func New(cfg config.ModelConfig, logger *slog.Logger, opts ...option.RequestOption) (dispatch.Invoker, error) {
	switch cfg.Provider {
	case config.ProviderDryRun, "":
		return NewDryRunInvoker(logger), nil
	case config.ProviderAnthropic:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, ErrNoAPIKey
		}
		return NewAnthropicInvoker(key, cfg, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// AnthropicInvoker sends payloads to the Anthropic Messages API.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAnthropicInvoker creates an invoker using apiKey. Extra request options
// are appended after the key, so tests can point the client at a local server.
func NewAnthropicInvoker(apiKey string, cfg config.ModelConfig, logger *slog.Logger, opts ...option.RequestOption) *AnthropicInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicInvoker{
		client:    anthropic.NewClient(clientOpts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "llm", "provider", config.ProviderAnthropic),
	}
}

// Invoke implements dispatch.Invoker.
func (a *AnthropicInvoker) Invoke(ctx context.Context, payload *dispatch.Payload) (*dispatch.Response, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.UserTurn)),
		},
	}
	if payload.SystemContext != "" {
		params.System = []anthropic.TextBlockParam{{Text: payload.SystemContext}}
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			a.logger.Error("model request rejected",
				"invocation_id", payload.InvocationID,
				"command", payload.Command,
				"status", apiErr.StatusCode,
			)
		}
		return nil, fmt.Errorf("invoking %s: %w", a.model, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w (stop reason %s)", ErrEmptyResponse, msg.StopReason)
	}

	a.logger.Info("model responded",
		"invocation_id", payload.InvocationID,
		"command", payload.Command,
		"model", msg.Model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start),
	)

	return &dispatch.Response{
		Text:         text.String(),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// DryRunInvoker answers without calling a model. It reports what would have
// been sent, which is enough to inspect assembled context from the CLI.
type DryRunInvoker struct {
	logger *slog.Logger
}

// NewDryRunInvoker creates a DryRunInvoker.
func NewDryRunInvoker(logger *slog.Logger) *DryRunInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunInvoker{logger: logger.With("component", "llm", "provider", config.ProviderDryRun)}
}

// Invoke implements dispatch.Invoker.
func (d *DryRunInvoker) Invoke(ctx context.Context, payload *dispatch.Payload) (*dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	systemTokens := 0
	var plugins []string
	if payload.Context != nil {
		systemTokens = payload.Context.EstimatedTokens
		plugins = payload.Context.IncludedPluginIDs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[dry run] %s\n", payload.Command)
	fmt.Fprintf(&b, "system context: ~%d tokens", systemTokens)
	if len(plugins) > 0 {
		fmt.Fprintf(&b, " from %s", strings.Join(plugins, ", "))
	}
	if payload.Context != nil && payload.Context.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString("\n\n")
	b.WriteString(payload.UserTurn)

	d.logger.Debug("dry run invocation", "invocation_id", payload.InvocationID, "command", payload.Command)

	return &dispatch.Response{
		Text:         b.String(),
		Model:        config.ProviderDryRun,
		StopReason:   "end_turn",
		InputTokens:  int64(systemTokens),
		OutputTokens: 0,
	}, nil
}

var (
	_ dispatch.Invoker = (*AnthropicInvoker)(nil)
	_ dispatch.Invoker = (*DryRunInvoker)(nil)
)
