package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestCleanJSONResponse tests the markdown fence removal
func TestCleanJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Clean JSON",
			input:    `[{"name": "Casa"}]`,
			expected: `[{"name": "Casa"}]`,
		},
		{
			name:     "JSON with markdown code blocks",
			input:    "```json\n[{\"name\": \"Casa\"}]\n```",
			expected: `[{"name": "Casa"}]`,
		},
		{
			name:     "JSON with just backticks",
			input:    "```\n{\"Nome\": \"name\"}\n```",
			expected: `{"Nome": "name"}`,
		},
		{
			name:     "JSON with extra whitespace",
			input:    "  \n  {\"Nome\": \"name\"}  \n  ",
			expected: `{"Nome": "name"}`,
		},
		{
			name:     "Plain text response",
			input:    "I'm unable to map these columns.",
			expected: "I'm unable to map these columns.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := cleanJSONResponse(tc.input)
			if result != tc.expected {
				t.Errorf("Expected: %q, got: %q", tc.expected, result)
			}
		})
	}
}

// TestParseJSONArray_Resilience tests how oracle responses of varying quality are recovered
func TestParseJSONArray_Resilience(t *testing.T) {
	testCases := []struct {
		name        string
		response    string
		expectError bool
		expectCount int
	}{
		{name: "Valid array", response: `[{"name": "A"}, {"name": "B"}]`, expectCount: 2},
		{name: "Fenced array", response: "Here you go:\n```json\n[{\"name\": \"A\"}]\n```", expectCount: 1},
		{name: "Prose around array", response: "Result: [{\"name\": \"A\"},\n{\"name\": \"B\"},] hope it helps", expectCount: 2},
		{name: "Empty array", response: `[]`, expectCount: 0},
		{name: "Plain text", response: "I cannot do that.", expectError: true},
		{name: "Broken JSON", response: `[{"name": }`, expectError: true},
		{name: "Object instead of array", response: `{"name": "A"}`, expectError: true},
		{name: "Empty response", response: "", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := ParseJSONArray(tc.response)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error but got %v", records)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if len(records) != tc.expectCount {
				t.Errorf("Expected: %d, got: %d", tc.expectCount, len(records))
			}
		})
	}
}

func TestParseJSONObject_KeepsOrder(t *testing.T) {
	pairs, err := ParseJSONObject("```json\n{\"Preço\": \"price\", \"Nome\": \"name\", \"Obs\": null}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var keys []string
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	expected := []string{"Preço", "Nome", "Obs"}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Expected: %v, got: %v", expected, keys)
	}
	if pairs[2].Value != nil {
		t.Errorf("Expected nil value, got %v", pairs[2].Value)
	}

	if _, err := ParseJSONObject(`{"a": 1} {"b": 2}`); err == nil {
		t.Error("Expected error for trailing data")
	}
}

func TestStringify(t *testing.T) {
	testCases := []struct {
		input    any
		expected string
	}{
		{nil, ""},
		{"Casa", "Casa"},
		{json.Number("250000.50"), "250000.50"},
		{true, "true"},
		{[]any{"piscina", nil, "sauna"}, "piscina, sauna"},
		{map[string]any{"a": json.Number("1")}, `{"a":1}`},
	}
	for _, tc := range testCases {
		if got := stringify(tc.input); got != tc.expected {
			t.Errorf("Expected: %q, got: %q", tc.expected, got)
		}
	}
}

func newChatServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestOpenAIClient_Complete(t *testing.T) {
	var seen map[string]any
	server := newChatServer(t, http.StatusOK, `{"Nome":"name"}`, &seen)
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := client.Complete(context.Background(), CompletionRequest{System: "map columns", Prompt: "Nome", MaxTokens: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"Nome":"name"}` {
		t.Errorf("Expected: %q, got: %q", `{"Nome":"name"}`, out)
	}

	messages, _ := seen["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("Expected system and user messages, got %v", seen["messages"])
	}
	if seen["max_tokens"] != float64(50) || seen["model"] != "gpt-4o-mini" {
		t.Errorf("unexpected request %v", seen)
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}, nil); err == nil {
		t.Error("Expected error without API key")
	}

	server := newChatServer(t, http.StatusTooManyRequests, "", nil)
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.GetModel() != "gpt-4o-mini" || client.GetMaxTokens() != 4000 {
		t.Errorf("unexpected defaults %q %d", client.GetModel(), client.GetMaxTokens())
	}

	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: " "}); err == nil {
		t.Error("Expected error for empty prompt")
	}
	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Error("Expected error for HTTP 429")
	}
}

func TestRateLimitedOracle(t *testing.T) {
	var calls int
	next := OracleFunc(func(_ context.Context, req CompletionRequest) (string, error) {
		calls++
		return "ok:" + req.Prompt, nil
	})

	limited := NewRateLimitedOracle(next, 20, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := limited.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// burst 1 at 20 rps: the second and third call wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Expected calls to be paced, took %v", elapsed)
	}
	if calls != 3 {
		t.Errorf("Expected: %d, got: %d", 3, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewRateLimitedOracle(next, 0.001, 1)
	_, _ = slow.Complete(context.Background(), CompletionRequest{Prompt: "first"})
	if _, err := slow.Complete(ctx, CompletionRequest{Prompt: "second"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
