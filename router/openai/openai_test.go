package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/tiborkr/tasquencer/router"
)

func TestNew_DefaultModelName(t *testing.T) {
	m := New("key", "")
	if m.modelName != "gpt-4o" {
		t.Errorf("modelName = %q, want gpt-4o", m.modelName)
	}
	if m.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", m.maxRetries)
	}

	m = New("key", "gpt-4o-mini")
	if m.modelName != "gpt-4o-mini" {
		t.Errorf("modelName = %q, want override", m.modelName)
	}
}

func TestChat_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New("key", "")
	if _, err := m.Chat(ctx, nil, nil); err != ctx.Err() {
		t.Fatalf("Chat: got %v, want context.Canceled", err)
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("request timeout"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("invalid api key"), false},
		{errors.New("bad request: missing field"), false},
	}
	for _, tt := range tests {
		if got := isTransientError(tt.err); got != tt.want {
			t.Errorf("isTransientError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]router.Message{
		{Role: router.RoleSystem, Content: "be helpful"},
		{Role: router.RoleUser, Content: "hi"},
		{Role: router.RoleAssistant, Content: "hello"},
	})
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
}

func TestConvertTools(t *testing.T) {
	tools := []router.ToolSpec{{Name: "search", Description: "search the web"}}
	out := convertTools(tools)
	if len(out) != 1 || out[0].Function.Name != "search" {
		t.Fatalf("out = %+v", out)
	}
}

func TestParseToolInput(t *testing.T) {
	tests := []struct {
		name string
		args string
		want map[string]interface{}
	}{
		{"empty", "", nil},
		{"valid json", `{"query":"go"}`, map[string]interface{}{"query": "go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseToolInput(tt.args)
			if tt.want == nil {
				if got != nil {
					t.Errorf("got %v, want nil", got)
				}
				return
			}
			if got["query"] != tt.want["query"] {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("invalid json falls back to raw", func(t *testing.T) {
		got := parseToolInput("not json")
		if got["_raw"] != "not json" {
			t.Errorf("got %v, want _raw fallback", got)
		}
	})
}
