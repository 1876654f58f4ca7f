package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

// StopReason is the provider-neutral reason a completion ended
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Turn is one entry of the provider-neutral transcript. A user turn carries
// either Text or ToolResults; an assistant turn carries Text and/or ToolCalls.
type Turn struct {
	Role        types.Role
	Text        string
	ToolCalls   []types.ToolCall
	ToolResults []tools.Result
}

// Request is a single completion request
type Request struct {
	System    string
	Turns     []Turn
	Tools     []*tools.Tool
	MaxTokens int
}

// Response is a single completion result
type Response struct {
	Segments   []string
	ToolCalls  []types.ToolCall
	StopReason StopReason
	Usage      types.Usage
	Model      string
}

// Text joins the text segments of the response
func (r *Response) Text() string {
	return strings.Join(r.Segments, "")
}

// Provider is a tool-calling LLM backend
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ProviderError wraps a failure talking to the LLM backend
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Options configures a provider client
type Options struct {
	Model     string
	MaxTokens int
	BaseURL   string
	Timeout   time.Duration
}

// NewProvider builds a provider client for the named backend
func NewProvider(ctx context.Context, name, apiKey string, opts Options) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", name)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	switch name {
	case "anthropic", "":
		return NewAnthropicClient(apiKey, opts), nil
	case "openai":
		return NewOpenAIClient(apiKey, opts), nil
	case "gemini":
		return NewGeminiClient(ctx, apiKey, opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
