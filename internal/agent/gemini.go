package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements Provider for Google Gemini
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
	log       *logger.Logger
}

// NewGeminiClient creates a Gemini client on the Gemini API backend
func NewGeminiClient(ctx context.Context, apiKey string, opts Options) (*GeminiClient, error) {
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		log:       logger.Component("gemini"),
	}, nil
}

// Name returns the provider name
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Model returns the configured model id
func (c *GeminiClient) Model() string {
	return c.model
}

// Complete runs one round of GenerateContent
func (c *GeminiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           convertToolsToGemini(req.Tools),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, convertTurnsToGemini(req.Turns), cfg)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: err}
	}

	out := convertGeminiResponse(resp)
	if out.Model == "" {
		out.Model = c.model
	}
	c.log.Debug("response received (stop=%s, %d calls, %d in / %d out tokens)",
		out.StopReason, len(out.ToolCalls), out.Usage.InputTokens, out.Usage.OutputTokens)
	return out, nil
}

func convertToolsToGemini(list []*tools.Tool) []*genai.Tool {
	if len(list) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(list))
	for _, t := range list {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertTurnsToGemini(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))

	for _, turn := range turns {
		switch {
		case len(turn.ToolResults) > 0:
			parts := make([]*genai.Part, 0, len(turn.ToolResults))
			for _, r := range turn.ToolResults {
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       r.CallID,
						Name:     r.Name,
						Response: geminiResponsePayload(r),
					},
				})
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})

		case len(turn.ToolCalls) > 0:
			parts := make([]*genai.Part, 0, len(turn.ToolCalls)+1)
			if turn.Text != "" {
				parts = append(parts, &genai.Part{Text: turn.Text})
			}
			for _, call := range turn.ToolCalls {
				args := map[string]any{}
				if len(call.Input) > 0 {
					_ = json.Unmarshal(call.Input, &args)
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
				})
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})

		default:
			role := string(genai.RoleUser)
			if turn.Role == types.RoleAssistant {
				role = string(genai.RoleModel)
			}
			contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: turn.Text}}})
		}
	}

	return contents
}

// geminiResponsePayload shapes a tool result as the object FunctionResponse expects
func geminiResponsePayload(r tools.Result) map[string]any {
	if r.Err != nil {
		return map[string]any{"error": map[string]any{"code": r.Err.Code, "message": r.Err.Message}}
	}
	var obj map[string]any
	if err := json.Unmarshal(r.Payload, &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	_ = json.Unmarshal(r.Payload, &v)
	return map[string]any{"output": v}
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{StopReason: StopEndTurn}
	if resp == nil {
		return out
	}
	out.Model = resp.ModelVersion
	if u := resp.UsageMetadata; u != nil {
		// thinking tokens are billed as output
		out.Usage = types.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount + u.ThoughtsTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopMaxTokens
	}
	if cand.Content == nil {
		return out
	}
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			input, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				input = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		case part.Text != "" && !part.Thought:
			out.Segments = append(out.Segments, part.Text)
		}
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolUse
	}
	return out
}
