package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CivicPulse/civicpulse/internal/chat"
	"github.com/CivicPulse/civicpulse/internal/stream"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		wantCmd Command
		wantArg string
	}{
		{"/new", CmdNew, ""},
		{"/new  ", CmdNew, ""},
		{"/locale FR", CmdLocale, "fr"},
		{"/quota", CmdQuota, ""},
		{"/HELP", CmdHelp, ""},
		{"/quit", CmdQuit, ""},
		{"/exit", CmdQuit, ""},
		{"/q", CmdQuit, ""},
		{"/foo bar", CmdUnknown, "bar"},
		{"who is my MP?", CmdNone, ""},
		{"", CmdNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, arg := parseCommand(tt.input)
			if cmd != tt.wantCmd {
				t.Errorf("parseCommand(%q) cmd = %v, want %v", tt.input, cmd, tt.wantCmd)
			}
			if arg != tt.wantArg {
				t.Errorf("parseCommand(%q) arg = %q, want %q", tt.input, arg, tt.wantArg)
			}
		})
	}
}

func TestAutocomplete(t *testing.T) {
	a := &Autocomplete{}

	a.Update("/")
	if !a.IsActive() || len(a.suggestions) != len(availableCommands) {
		t.Fatalf("expected all commands for '/', got %d", len(a.suggestions))
	}

	a.Update("/q")
	if a.Selected() != "/quota" {
		t.Errorf("expected /quota first, got %s", a.Selected())
	}
	a.Next()
	if a.Selected() != "/quit" {
		t.Errorf("expected /quit after Next, got %s", a.Selected())
	}
	a.Next()
	if a.Selected() != "/quota" {
		t.Errorf("Next should wrap, got %s", a.Selected())
	}
	a.Prev()
	if a.Selected() != "/quit" {
		t.Errorf("Prev should wrap, got %s", a.Selected())
	}
	if !strings.Contains(a.View(), "/quit") {
		t.Error("popup should list /quit")
	}

	a.Update("/locale fr")
	if a.IsActive() {
		t.Error("autocomplete should close once an argument is typed")
	}
	if a.View() != "" {
		t.Error("inactive popup should render nothing")
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("the quick brown fox jumps", 10)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line %q is wider than 10", line)
		}
	}
	if strings.Join(strings.Fields(got), " ") != "the quick brown fox jumps" {
		t.Errorf("wrapping lost words: %q", got)
	}
}

func TestContainsMarkdown(t *testing.T) {
	if !containsMarkdown("**Bill C-21** passed") {
		t.Error("bold text should count as markdown")
	}
	if !containsMarkdown("- first\n- second") {
		t.Error("list should count as markdown")
	}
	if containsMarkdown("Jane Doe represents Ottawa Centre.") {
		t.Error("plain sentence is not markdown")
	}
}

func TestFormatNavigation(t *testing.T) {
	if formatNavigation(nil) != "" {
		t.Error("nil navigation should render nothing")
	}
	out := formatNavigation(&types.Navigation{URL: "/en/mps/jane-doe", Message: "View MP"})
	if !strings.Contains(out, "/en/mps/jane-doe") || !strings.Contains(out, "View MP") {
		t.Errorf("navigation missing parts: %s", out)
	}
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func TestModel_AppliesFrames(t *testing.T) {
	m := sized(New(Options{Server: "localhost", Locale: "fr"}))
	if m.locale != "fr" {
		t.Fatalf("locale = %s", m.locale)
	}

	m.streaming = true
	m.turn = 1
	m.entries = append(m.entries, entry{kind: entryUser, text: "Qui est Jane Doe?"})

	frames := []tea.Msg{
		frameMsg{turn: 1, frame: stream.Frame{
			Content:    "Jane Doe est députée.",
			Navigation: &types.Navigation{URL: "/fr/mps/jane-doe", Message: "Voir la page"},
		}},
		frameMsg{turn: 1, frame: stream.Frame{Done: true, Message: &types.Message{Content: "Jane Doe est députée.", TotalTokens: 2300}}},
		streamEndMsg{turn: 1},
	}
	for _, f := range frames {
		next, _ := m.Update(f)
		m = next.(Model)
	}

	if m.streaming {
		t.Error("stream should be finished")
	}
	if m.tokens != 2300 {
		t.Errorf("tokens = %d, want 2300", m.tokens)
	}
	last := m.entries[len(m.entries)-1]
	if last.kind != entryAI || last.text != "Jane Doe est députée." {
		t.Errorf("unexpected last entry: %+v", last)
	}
	if last.nav == nil || last.nav.URL != "/fr/mps/jane-doe" {
		t.Errorf("navigation not kept: %+v", last.nav)
	}
	if !strings.Contains(m.renderMessages(), "/fr/mps/jane-doe") {
		t.Error("rendered chat should show the page link")
	}
}

func TestModel_IgnoresStaleTurn(t *testing.T) {
	m := sized(New(Options{}))
	m.streaming = true
	m.turn = 2

	next, cmd := m.Update(frameMsg{turn: 1, frame: stream.Frame{Content: "old"}})
	m = next.(Model)
	if m.partial != "" || cmd != nil {
		t.Errorf("stale frame should be dropped, partial=%q", m.partial)
	}
}

func TestModel_ErrorFrame(t *testing.T) {
	m := sized(New(Options{}))
	m.streaming = true
	m.turn = 1

	next, _ := m.Update(frameMsg{turn: 1, frame: stream.Frame{Error: "The AI assistant could not answer right now. Please try again."}})
	m = next.(Model)
	next, _ = m.Update(streamEndMsg{turn: 1})
	m = next.(Model)

	last := m.entries[len(m.entries)-1]
	if last.kind != entryError {
		t.Errorf("expected an error entry, got %+v", last)
	}
}

func TestModel_Commands(t *testing.T) {
	m := sized(New(Options{}))
	first := m.conversationID

	next, _ := m.handleInput("/locale fr")
	m = next.(Model)
	if m.locale != "fr" {
		t.Errorf("locale = %s, want fr", m.locale)
	}

	next, _ = m.handleInput("/locale de")
	m = next.(Model)
	if m.locale != "fr" {
		t.Errorf("unsupported locale should be ignored, got %s", m.locale)
	}

	next, _ = m.handleInput("/new")
	m = next.(Model)
	if m.conversationID == first {
		t.Error("/new should start a new conversation id")
	}

	_, cmd := m.handleInput("/quit")
	if cmd == nil {
		t.Error("/quit should return tea.Quit")
	}
}

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "tok")
}

func TestClient_Chat(t *testing.T) {
	var got chat.Request
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"Hello\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"done\":true,\"message\":{\"content\":\"Hello\",\"total_tokens\":12}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var frames []stream.Frame
	err := c.Chat(context.Background(), chat.Request{ConversationID: "c1", Message: "hi"}, func(f stream.Frame) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.ConversationID != "c1" || got.Message != "hi" {
		t.Errorf("server got %+v", got)
	}
	if len(frames) != 2 || frames[0].Content != "Hello" || !frames[1].Done || frames[1].Message.TotalTokens != 12 {
		t.Errorf("unexpected frames: %+v", frames)
	}
}

func TestClient_ChatTruncated(t *testing.T) {
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"Hel\"}\n\n")
	})
	err := c.Chat(context.Background(), chat.Request{}, func(stream.Frame) {})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestClient_APIError(t *testing.T) {
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"Free question limit reached","reason":"quota_exceeded","requires_payment":true}`)
	})

	err := c.Chat(context.Background(), chat.Request{}, func(stream.Frame) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || !apiErr.RequiresPayment || apiErr.Reason != "quota_exceeded" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_Quota(t *testing.T) {
	reset := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"can_query":true,"used":3,"limit":10,"resets_at":%q}`, reset.Format(time.RFC3339))
	})

	d, err := c.Quota(context.Background())
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if d.Used != 3 || d.Limit != 10 || !d.ResetsAt.Equal(reset) {
		t.Errorf("unexpected decision: %+v", d)
	}

	msg := New(Options{Client: c}).fetchQuota()().(quotaMsg)
	if msg.err != nil || !strings.Contains(msg.text, "Used 3 of 10") {
		t.Errorf("unexpected quota message: %+v", msg)
	}
}
