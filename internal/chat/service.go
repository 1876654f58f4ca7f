// Package chat runs one assistant turn end to end: quota, credentials,
// prompt, the tool loop, then persistence and the closing frames.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/CivicPulse/civicpulse/internal/agent"
	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/credential"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/metrics"
	"github.com/CivicPulse/civicpulse/internal/prompt"
	"github.com/CivicPulse/civicpulse/internal/quota"
	"github.com/CivicPulse/civicpulse/internal/store"
	"github.com/CivicPulse/civicpulse/internal/stream"
	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/internal/usage"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const (
	maxMessageRunes = 4000
	maxTitleRunes   = 80
	persistTimeout  = 10 * time.Second

	providerFailedMessage = "The AI assistant could not answer right now. Please try again."
)

// Store is the persistence a turn reads and appends to
type Store interface {
	EnsureConversation(ctx context.Context, id, userID, title string) (*types.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
	AppendMessage(ctx context.Context, m *types.Message) error
	UpdateConversationAggregates(ctx context.Context, id string, addMessages, addTokens int, at time.Time) error
	GetPreferences(ctx context.Context, userID string) (*types.Preferences, error)
}

// Deps are the collaborators of a Service. Metrics may be nil.
type Deps struct {
	Store    Store
	Gate     *quota.Gate
	Resolver *credential.Resolver
	Executor *tools.Executor
	Ledger   *usage.Ledger
	Metrics  *metrics.Collector
}

// Request is an inbound chat message
type Request struct {
	UserID         string             `json:"-"`
	ConversationID string             `json:"conversation_id"`
	Message        string             `json:"message"`
	Context        *types.PageContext `json:"context,omitempty"`
}

// Service prepares and runs chat turns
type Service struct {
	deps Deps
	cfg  config.AgentConfig
	log  *logger.Logger
}

func NewService(deps Deps, cfg config.AgentConfig) *Service {
	return &Service{
		deps: deps,
		cfg:  cfg,
		log:  logger.Component("chat"),
	}
}

// Turn is a request that passed every pre-stream check. Run streams it.
type Turn struct {
	svc          *Service
	userID       string
	conversation *types.Conversation
	provider     agent.Provider
	byok         bool
	system       string
	history      []agent.Turn
	message      string
	locale       string
}

// BYOK reports whether the turn runs on the caller's own key
func (t *Turn) BYOK() bool { return t.byok }

// Prepare does everything that can fail with an ordinary error response:
// validation, the quota gate, credential resolution, history and prompt
// assembly, and saving the user's message.
func (s *Service) Prepare(ctx context.Context, req Request) (*Turn, error) {
	if req.UserID == "" {
		return nil, ErrUnauthenticated
	}
	msg := strings.TrimSpace(req.Message)
	switch {
	case req.ConversationID == "":
		return nil, &RequestError{Message: "conversation_id is required"}
	case msg == "":
		return nil, &RequestError{Message: "message is required"}
	case utf8.RuneCountInString(msg) > maxMessageRunes:
		return nil, &RequestError{Message: "message is too long"}
	}

	decision, err := s.deps.Gate.Check(ctx, req.UserID)
	if err != nil {
		s.deps.Metrics.QuotaRejected(decision.Reason)
		return nil, &QuotaUnavailableError{Err: err}
	}
	if !decision.CanQuery {
		s.deps.Metrics.QuotaRejected(decision.Reason)
		return nil, &QuotaExceededError{Reason: decision.Reason, RequiresPayment: decision.RequiresPayment}
	}

	resolved, err := s.deps.Resolver.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	conv, err := s.deps.Store.EnsureConversation(ctx, req.ConversationID, req.UserID, titleFrom(msg))
	if err != nil {
		if errors.Is(err, store.ErrNotOwner) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	prefs, err := s.deps.Store.GetPreferences(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	custom := ""
	if prefs != nil {
		custom = prefs.CustomPrompt
	}

	now := time.Now().UTC()
	userMsg := &types.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Kind:           types.KindText,
		Content:        msg,
		CreatedAt:      now,
	}
	if err := s.deps.Store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	if err := s.deps.Store.UpdateConversationAggregates(ctx, conv.ID, 1, 0, now); err != nil {
		s.log.Warn("failed to update conversation %s: %v", conv.ID, err)
	}

	locale := "en"
	if req.Context != nil {
		locale = req.Context.LocaleOrDefault()
	}

	return &Turn{
		svc:          s,
		userID:       req.UserID,
		conversation: conv,
		provider:     resolved.Provider,
		byok:         resolved.BYOK,
		system:       prompt.Compose(req.Context, custom),
		history:      history,
		message:      msg,
		locale:       locale,
	}, nil
}

// history loads the replayable part of a conversation
func (s *Service) history(ctx context.Context, conversationID string) ([]agent.Turn, error) {
	limit := 0
	if s.cfg.MaxHistoryMessages > 0 {
		// stored tool payloads are dropped below, so read a little extra
		limit = s.cfg.MaxHistoryMessages * 2
	}
	msgs, err := s.deps.Store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	msgs = agent.FilterHistory(msgs)
	msgs = agent.TrimHistory(msgs, s.cfg.MaxHistoryMessages, s.cfg.MaxContextTokens)
	return agent.HistoryTurns(msgs), nil
}

// Run drives the tool loop and streams the answer. Provider failures end the
// stream with an error frame. Persistence failures are logged; the caller
// still receives the answer. The sink is always closed.
func (t *Turn) Run(ctx context.Context, sink stream.Sink) error {
	defer sink.Close()

	s := t.svc
	done := s.deps.Metrics.TurnStarted()
	defer done()

	loop := agent.NewLoop(t.provider, s.deps.Executor, s.deps.Executor.Tools(), agent.LoopConfig{
		MaxRounds: s.cfg.MaxRounds,
		MaxTokens: s.cfg.MaxTokens,
	})

	out, err := loop.Run(tools.WithLocale(ctx, t.locale), agent.Input{
		System:      t.system,
		History:     t.history,
		UserMessage: t.message,
	}, sink)
	if err != nil {
		outcome := "provider_error"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		s.deps.Metrics.ObserveTurn(t.provider.Name(), outcome, 0, 0, 0, 0)
		s.log.Error("turn failed for conversation %s: %v", t.conversation.ID, err)
		if emitErr := sink.Emit(stream.Frame{Error: providerFailedMessage}); emitErr != nil && !errors.Is(emitErr, stream.ErrClosed) {
			s.log.Warn("failed to emit error frame: %v", emitErr)
		}
		return err
	}

	// the answer exists now, so saving it must outlive a client disconnect
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	msg := t.persist(pctx, out)

	outcome := "ok"
	if out.Exhausted {
		outcome = "exhausted"
	}
	platformCost := msg.CostUSD
	if t.byok {
		platformCost = 0
	}
	s.deps.Metrics.ObserveTurn(out.Provider, outcome, out.Rounds, out.Usage.InputTokens, out.Usage.OutputTokens, platformCost)

	if err := sink.Emit(stream.Frame{Done: true, Message: msg}); err != nil && !errors.Is(err, stream.ErrClosed) {
		s.log.Warn("failed to emit done frame: %v", err)
	}
	return nil
}

// persist saves the assistant message, its usage record and the conversation
// aggregates. Each step logs its own failure and the rest still run.
func (t *Turn) persist(ctx context.Context, out *agent.Outcome) *types.Message {
	s := t.svc
	now := time.Now().UTC()

	msg := &types.Message{
		ID:             uuid.NewString(),
		ConversationID: t.conversation.ID,
		Role:           types.RoleAssistant,
		Kind:           types.KindText,
		Content:        out.Answer,
		InputTokens:    out.Usage.InputTokens,
		OutputTokens:   out.Usage.OutputTokens,
		TotalTokens:    out.Usage.Total(),
		Provider:       out.Provider,
		Model:          out.Model,
		CostUSD:        s.deps.Ledger.Cost(out.Provider, out.Model, out.Usage),
		UsedBYOKey:     t.byok,
		CreatedAt:      now,
	}

	if err := s.deps.Store.AppendMessage(ctx, msg); err != nil {
		s.log.Warn("failed to save assistant message for %s: %v", t.conversation.ID, err)
	}

	err := s.deps.Ledger.Record(ctx, usage.Turn{
		MessageID:      msg.ID,
		UserID:         t.userID,
		ConversationID: t.conversation.ID,
		Provider:       out.Provider,
		Model:          out.Model,
		Usage:          out.Usage,
		BYOK:           t.byok,
		At:             now,
	})
	if err != nil {
		s.log.Warn("failed to record usage for message %s: %v", msg.ID, err)
	}

	if err := s.deps.Store.UpdateConversationAggregates(ctx, t.conversation.ID, 1, msg.TotalTokens, now); err != nil {
		s.log.Warn("failed to update conversation %s: %v", t.conversation.ID, err)
	}
	return msg
}

// titleFrom derives a conversation title from its first message
func titleFrom(msg string) string {
	line, _, _ := strings.Cut(msg, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}
