package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

func TestOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient("sk-test-key", Options{})
	if client.Name() != "openai" {
		t.Errorf("Expected name 'openai', got %s", client.Name())
	}
	if client.Model() != "gpt-4o" {
		t.Errorf("Expected default model gpt-4o, got %s", client.Model())
	}
}

func TestConvertTurnsToOpenAI(t *testing.T) {
	turns := []Turn{
		{Role: types.RoleUser, Text: "Hello"},
		{Role: types.RoleAssistant, Text: "Checking.", ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "get_mp", Input: json.RawMessage(`{"mp_id":"x"}`)},
			{ID: "c2", Name: "list_committees"},
		}},
		{Role: types.RoleUser, ToolResults: []tools.Result{
			{CallID: "c1", Payload: json.RawMessage(`{"mps":[]}`)},
			{CallID: "c2", Err: &tools.ToolError{Code: tools.CodeBackendError, Message: "down"}},
		}},
	}

	msgs := convertTurnsToOpenAI("sys", turns)
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}

	expected := []string{"system", "user", "assistant", "tool", "tool"}
	for i, role := range expected {
		if msgs[i].Role != role {
			t.Errorf("Message %d: role = %s, want %s", i, msgs[i].Role, role)
		}
	}

	if *msgs[0].Content != "sys" {
		t.Errorf("System prompt should come first")
	}
	if len(msgs[2].ToolCalls) != 2 || msgs[2].ToolCalls[1].Function.Arguments != "{}" {
		t.Errorf("Unexpected tool calls: %+v", msgs[2].ToolCalls)
	}
	if msgs[3].ToolCallID != "c1" || msgs[4].ToolCallID != "c2" {
		t.Errorf("Tool messages out of order")
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got OpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-2024-08-06",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_abc", "type": "function", "function": {"name": "search_bills", "arguments": "{\"query\":\"housing\"}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 15, "total_tokens": 135}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test", Options{BaseURL: srv.URL})
	resp, err := client.Complete(context.Background(), &Request{
		System: "sys",
		Turns:  []Turn{{Role: types.RoleUser, Text: "housing bills?"}},
		Tools:  []*tools.Tool{{Name: "search_bills", Description: "Search bills"}},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("Expected tool_use, got %s", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_abc" || string(resp.ToolCalls[0].Input) != `{"query":"housing"}` {
		t.Errorf("Unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 15 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o-2024-08-06" {
		t.Errorf("Unexpected model: %s", resp.Model)
	}
	if len(got.Tools) != 1 {
		t.Errorf("Tools not sent")
	}
}

func TestOpenAICompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("bad", Options{BaseURL: srv.URL}).Complete(context.Background(), &Request{
		Turns: []Turn{{Role: types.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if _, ok := err.(*ProviderError); !ok {
		t.Errorf("Expected *ProviderError, got %T", err)
	}
}

func TestOpenAIStopReason(t *testing.T) {
	tests := map[string]StopReason{
		"stop":       StopEndTurn,
		"tool_calls": StopToolUse,
		"length":     StopMaxTokens,
		"":           StopEndTurn,
	}
	for in, want := range tests {
		if got := openAIStopReason(in); got != want {
			t.Errorf("openAIStopReason(%q) = %s, want %s", in, got, want)
		}
	}
}
