package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/stream"
	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const (
	defaultMaxRounds      = 8
	defaultToolFanout     = 8
	fallbackAnswer        = "I wasn't able to finish looking that up."
	exhaustedNoteTemplate = "(I stopped after %d research steps; the answer may be incomplete.)"
)

// ToolRunner executes one tool call. Failures come back inside the Result.
type ToolRunner interface {
	Execute(ctx context.Context, call types.ToolCall) tools.Result
}

// LoopConfig bounds a single turn
type LoopConfig struct {
	MaxRounds  int
	MaxTokens  int
	ToolFanout int
}

// Input seeds a turn
type Input struct {
	System      string
	History     []Turn
	UserMessage string
}

// Outcome summarizes a finished turn
type Outcome struct {
	Answer     string
	Navigation *types.Navigation
	Usage      types.Usage
	Rounds     int
	Exhausted  bool
	Provider   string
	Model      string
}

// Loop drives the model through tool-calling rounds until it answers
type Loop struct {
	provider Provider
	runner   ToolRunner
	catalog  []*tools.Tool
	cfg      LoopConfig
	log      *logger.Logger
}

// NewLoop creates a loop for one provider
func NewLoop(provider Provider, runner ToolRunner, catalog []*tools.Tool, cfg LoopConfig) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.ToolFanout <= 0 {
		cfg.ToolFanout = defaultToolFanout
	}
	return &Loop{
		provider: provider,
		runner:   runner,
		catalog:  catalog,
		cfg:      cfg,
		log:      logger.Component("loop"),
	}
}

// Run executes the turn and emits the final answer to sink. Provider
// failures are returned without emitting anything.
func (l *Loop) Run(ctx context.Context, in Input, sink stream.Sink) (*Outcome, error) {
	turns := make([]Turn, 0, len(in.History)+1+2*l.cfg.MaxRounds)
	turns = append(turns, in.History...)
	turns = append(turns, Turn{Role: types.RoleUser, Text: in.UserMessage})

	out := &Outcome{Provider: l.provider.Name(), Model: l.provider.Model()}
	var interim []string
	var final *Response

	for round := 1; round <= l.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := l.provider.Complete(ctx, &Request{
			System:    in.System,
			Turns:     turns,
			Tools:     l.catalog,
			MaxTokens: l.cfg.MaxTokens,
		})
		if err != nil {
			var pe *ProviderError
			if !errors.As(err, &pe) {
				err = &ProviderError{Provider: l.provider.Name(), Err: err}
			}
			return nil, err
		}

		out.Rounds = round
		out.Usage.Add(resp.Usage)
		if resp.Model != "" {
			out.Model = resp.Model
		}

		if resp.StopReason != StopToolUse || len(resp.ToolCalls) == 0 {
			final = resp
			break
		}

		calls := uniqueCallIDs(resp.ToolCalls, round)
		results := l.runTools(ctx, calls)
		for _, r := range results {
			if r.Navigation != nil {
				out.Navigation = r.Navigation
			}
		}

		text := resp.Text()
		if text != "" {
			interim = append(interim, text)
		}
		turns = append(turns,
			Turn{Role: types.RoleAssistant, Text: text, ToolCalls: calls},
			Turn{Role: types.RoleUser, ToolResults: results},
		)
		l.log.Debug("round %d: %d tool calls", round, len(calls))
	}

	if final != nil {
		out.Answer = strings.TrimSpace(final.Text())
		if out.Answer == "" {
			out.Answer = strings.TrimSpace(strings.Join(interim, "\n\n"))
		}
		if out.Answer == "" {
			out.Answer = fallbackAnswer
		}
	} else {
		out.Exhausted = true
		partial := strings.TrimSpace(strings.Join(interim, "\n\n"))
		if partial == "" {
			partial = fallbackAnswer
		}
		out.Answer = partial + "\n\n" + fmt.Sprintf(exhaustedNoteTemplate, l.cfg.MaxRounds)
		l.log.Warn("round cap of %d reached", l.cfg.MaxRounds)
	}

	if err := sink.Emit(stream.Frame{Content: out.Answer, Navigation: out.Navigation}); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			l.log.Info("client disconnected before the answer was delivered")
		} else {
			l.log.Warn("failed to emit answer: %v", err)
		}
	}
	return out, nil
}

// runTools executes one round's calls concurrently and returns results in call order
func (l *Loop) runTools(ctx context.Context, calls []types.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))

	var g errgroup.Group
	g.SetLimit(l.cfg.ToolFanout)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = l.runner.Execute(ctx, call)
			// runners are not required to echo the call id
			results[i].CallID = call.ID
			results[i].Name = call.Name
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// uniqueCallIDs fills in missing ids and disambiguates repeats within a round
func uniqueCallIDs(calls []types.ToolCall, round int) []types.ToolCall {
	out := make([]types.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("call_r%d_%d", round, i)
		}
		seen[id] = true
		c.ID = id
		out[i] = c
	}
	return out
}
