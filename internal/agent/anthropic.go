package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion   = "2023-06-01"
	defaultMaxTokens      = 4096
	defaultAnthropicModel = "claude-sonnet-4-20250514"
)

// AnthropicClient implements Provider for Anthropic's Claude
type AnthropicClient struct {
	apiKey    string
	model     string
	maxTokens int
	url       string
	client    *http.Client
	log       *logger.Logger
}

// AnthropicRequest represents the request body for Claude API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []AnthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	Tools     []AnthropicTool    `json:"tools,omitempty"`
}

// AnthropicTool represents a tool definition for Claude
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// AnthropicMessage represents a message in the Claude format
// Content can be a string or an array of content blocks
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []ContentBlock
}

// ContentBlock represents a content block in messages (for tool use/results)
type ContentBlock struct {
	Type      string          `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`        // for type="text"
	ID        string          `json:"id,omitempty"`          // for type="tool_use"
	Name      string          `json:"name,omitempty"`        // for type="tool_use"
	Input     json.RawMessage `json:"input,omitempty"`       // for type="tool_use"
	ToolUseID string          `json:"tool_use_id,omitempty"` // for type="tool_result"
	Content   string          `json:"content,omitempty"`     // for type="tool_result"
	IsError   bool            `json:"is_error,omitempty"`    // for type="tool_result"
}

// AnthropicResponse represents the response from Claude API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      AnthropicUsage     `json:"usage"`
}

// AnthropicContent represents a content block in the response
type AnthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`    // for tool_use
	Name  string          `json:"name,omitempty"`  // for tool_use
	Input json.RawMessage `json:"input,omitempty"` // for tool_use
}

// AnthropicUsage represents token usage info
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicError represents an API error response
type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorWrapper struct {
	Error AnthropicError `json:"error"`
}

// NewAnthropicClient creates a new Anthropic Claude client
func NewAnthropicClient(apiKey string, opts Options) *AnthropicClient {
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	url := anthropicAPIURL
	if opts.BaseURL != "" {
		url = strings.TrimRight(opts.BaseURL, "/") + "/v1/messages"
	}

	return &AnthropicClient{
		apiKey:    apiKey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		url:       url,
		client:    &http.Client{Timeout: opts.Timeout},
		log:       logger.Component("anthropic"),
	}
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Model returns the configured model id
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete runs one round against the Messages API
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := AnthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  convertTurnsToAnthropic(req.Turns),
		System:    req.System,
		Tools:     convertToolsToAnthropic(req.Tools),
	}

	resp, err := c.callAPI(ctx, body)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: err}
	}

	out := &Response{
		Model:      resp.Model,
		StopReason: anthropicStopReason(resp.StopReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.Segments = append(out.Segments, block.Text)
			}
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	c.log.Debug("response received (stop=%s, %d calls, %d in / %d out tokens)",
		resp.StopReason, len(out.ToolCalls), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return out, nil
}

func anthropicStopReason(s string) StopReason {
	switch s {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func convertToolsToAnthropic(list []*tools.Tool) []AnthropicTool {
	if len(list) == 0 {
		return nil
	}
	out := make([]AnthropicTool, 0, len(list))
	for _, t := range list {
		out = append(out, AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// convertTurnsToAnthropic converts the neutral transcript to Claude messages
func convertTurnsToAnthropic(turns []Turn) []AnthropicMessage {
	msgs := make([]AnthropicMessage, 0, len(turns))

	for _, turn := range turns {
		switch {
		case len(turn.ToolResults) > 0:
			blocks := make([]ContentBlock, 0, len(turn.ToolResults))
			for _, r := range turn.ToolResults {
				blocks = append(blocks, ContentBlock{
					Type:      "tool_result",
					ToolUseID: r.CallID,
					Content:   r.Content(),
					IsError:   r.IsError(),
				})
			}
			msgs = append(msgs, AnthropicMessage{Role: "user", Content: blocks})

		case len(turn.ToolCalls) > 0:
			blocks := make([]ContentBlock, 0, len(turn.ToolCalls)+1)
			if turn.Text != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: turn.Text})
			}
			for _, call := range turn.ToolCalls {
				input := call.Input
				if len(bytes.TrimSpace(input)) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			msgs = append(msgs, AnthropicMessage{Role: "assistant", Content: blocks})

		default:
			role := "user"
			if turn.Role == types.RoleAssistant {
				role = "assistant"
			}
			msgs = append(msgs, AnthropicMessage{Role: role, Content: turn.Text})
		}
	}

	return msgs
}

// callAPI makes a single API call to Anthropic (non-streaming)
func (c *AnthropicClient) callAPI(ctx context.Context, reqBody AnthropicRequest) (*AnthropicResponse, error) {
	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorWrapper
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("anthropic API error: %s (%s)", errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("anthropic API error: status %d, body: %s", resp.StatusCode, truncateString(string(respBody), 300))
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &anthropicResp, nil
}

// truncateString truncates a string to maxLen and adds "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
