package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// EstimateTokens gives a rough token count for text
func EstimateTokens(text string) int {
	runeCount := utf8.RuneCountInString(text)
	byteCount := len(text)
	// If mostly multi-byte (CJK), use rune count; otherwise bytes/4
	if byteCount > runeCount*2 {
		return runeCount
	}
	return byteCount / 4
}

// FilterHistory keeps only plain user and assistant text messages
func FilterHistory(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind != "" && m.Kind != types.KindText {
			continue
		}
		if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// TrimHistory keeps the most recent messages within both limits. A limit <= 0
// is ignored. The result never starts with an assistant message.
func TrimHistory(msgs []types.Message, maxMessages, maxTokens int) []types.Message {
	start := 0
	if maxMessages > 0 && len(msgs) > maxMessages {
		start = len(msgs) - maxMessages
	}

	if maxTokens > 0 {
		budget := maxTokens
		i := len(msgs) - 1
		for ; i >= start; i-- {
			cost := EstimateTokens(msgs[i].Content)
			if cost > budget {
				break
			}
			budget -= cost
		}
		start = i + 1
	}

	for start < len(msgs) && msgs[start].Role == types.RoleAssistant {
		start++
	}
	return msgs[start:]
}

// HistoryTurns converts stored messages to transcript turns
func HistoryTurns(msgs []types.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Text: m.Content})
	}
	return turns
}
