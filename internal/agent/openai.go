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
	openaiAPIURL       = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAIClient implements Provider for OpenAI chat completions
type OpenAIClient struct {
	apiKey    string
	model     string
	maxTokens int
	url       string
	client    *http.Client
	log       *logger.Logger
}

// OpenAIRequest represents the request body for OpenAI Chat API
type OpenAIRequest struct {
	Model     string           `json:"model"`
	Messages  []OpenAIMessage  `json:"messages"`
	MaxTokens int              `json:"max_tokens,omitempty"`
	Tools     []map[string]any `json:"tools,omitempty"`
}

// OpenAIMessage represents a message in OpenAI format
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall is a function call requested by the model
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and JSON-encoded arguments
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIResponse represents the response from OpenAI Chat API
type OpenAIResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []OpenAIChoice   `json:"choices"`
	Usage   OpenAIUsage      `json:"usage"`
	Error   *OpenAIErrorInfo `json:"error,omitempty"`
}

// OpenAIChoice represents a choice in the response
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage represents token usage info
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIErrorInfo represents an error from the API
type OpenAIErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey string, opts Options) *OpenAIClient {
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	url := openaiAPIURL
	if opts.BaseURL != "" {
		url = strings.TrimRight(opts.BaseURL, "/") + "/v1/chat/completions"
	}

	return &OpenAIClient{
		apiKey:    apiKey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		url:       url,
		client:    &http.Client{Timeout: opts.Timeout},
		log:       logger.Component("openai"),
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Model returns the configured model id
func (c *OpenAIClient) Model() string {
	return c.model
}

func strPtr(s string) *string {
	return &s
}

// convertTurns converts the neutral transcript to OpenAI messages, system first
func convertTurnsToOpenAI(system string, turns []Turn) []OpenAIMessage {
	msgs := make([]OpenAIMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, OpenAIMessage{Role: "system", Content: strPtr(system)})
	}

	for _, turn := range turns {
		switch {
		case len(turn.ToolResults) > 0:
			// one "tool" message per result, in call order
			for _, r := range turn.ToolResults {
				msgs = append(msgs, OpenAIMessage{
					Role:       "tool",
					ToolCallID: r.CallID,
					Content:    strPtr(r.Content()),
				})
			}

		case len(turn.ToolCalls) > 0:
			msg := OpenAIMessage{Role: "assistant"}
			if turn.Text != "" {
				msg.Content = strPtr(turn.Text)
			}
			for _, call := range turn.ToolCalls {
				args := string(call.Input)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: OpenAIFunctionCall{Name: call.Name, Arguments: args},
				})
			}
			msgs = append(msgs, msg)

		default:
			role := "user"
			if turn.Role == types.RoleAssistant {
				role = "assistant"
			}
			msgs = append(msgs, OpenAIMessage{Role: role, Content: strPtr(turn.Text)})
		}
	}

	return msgs
}

func convertToolsToOpenAI(list []*tools.Tool) []map[string]any {
	if len(list) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, t := range list {
		out = append(out, t.ToOpenAISchema())
	}
	return out
}

func openAIStopReason(s string) StopReason {
	switch s {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// Complete runs one round against the chat completions API
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := OpenAIRequest{
		Model:     c.model,
		Messages:  convertTurnsToOpenAI(req.System, req.Turns),
		MaxTokens: maxTokens,
		Tools:     convertToolsToOpenAI(req.Tools),
	}

	resp, err := c.callAPI(ctx, body)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Err: fmt.Errorf("no choices in response")}
	}

	choice := resp.Choices[0]
	out := &Response{
		Model:      resp.Model,
		StopReason: openAIStopReason(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Segments = append(out.Segments, *choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	// some models report "stop" alongside tool calls
	if len(out.ToolCalls) > 0 && out.StopReason == StopEndTurn {
		out.StopReason = StopToolUse
	}

	c.log.Debug("response received (finish=%s, %d calls, %d in / %d out tokens)",
		choice.FinishReason, len(out.ToolCalls), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return out, nil
}

func (c *OpenAIClient) callAPI(ctx context.Context, reqBody OpenAIRequest) (*OpenAIResponse, error) {
	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var openaiResp OpenAIResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("openai API error: status %d, body: %s", resp.StatusCode, truncateString(string(respBody), 300))
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if openaiResp.Error != nil {
		return nil, fmt.Errorf("openai API error: %s (%s)", openaiResp.Error.Message, openaiResp.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API error: status %d", resp.StatusCode)
	}

	return &openaiResp, nil
}
