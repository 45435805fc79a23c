package anthropic

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/router"
)

func TestNew_DefaultModelName(t *testing.T) {
	m := New("key", "")
	if m.modelName != "claude-sonnet-4-5-20250929" {
		t.Errorf("modelName = %q, want default", m.modelName)
	}

	m = New("key", "claude-3-opus-20240229")
	if m.modelName != "claude-3-opus-20240229" {
		t.Errorf("modelName = %q, want override", m.modelName)
	}
}

func TestChat_EmptyAPIKey(t *testing.T) {
	m := New("", "")
	_, err := m.Chat(context.Background(), []router.Message{{Role: router.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for empty API key")
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

func TestExtractSystem(t *testing.T) {
	messages := []router.Message{
		{Role: router.RoleSystem, Content: "be helpful"},
		{Role: router.RoleUser, Content: "hi"},
		{Role: router.RoleSystem, Content: "be concise"},
	}

	system, convo := extractSystem(messages)
	if system != "be helpful\n\nbe concise" {
		t.Errorf("system = %q", system)
	}
	if len(convo) != 1 || convo[0].Content != "hi" {
		t.Errorf("convo = %+v", convo)
	}
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]router.Message{
		{Role: router.RoleUser, Content: "question"},
		{Role: router.RoleAssistant, Content: "answer"},
	})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
}

func TestConvertTools(t *testing.T) {
	tools := []router.ToolSpec{{
		Name:        "search",
		Description: "search the web",
		Schema: map[string]interface{}{
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []interface{}{"query"},
		},
	}}

	out := convertTools(tools)
	if len(out) != 1 || out[0].OfTool.Name != "search" {
		t.Fatalf("out = %+v", out)
	}
	if len(out[0].OfTool.InputSchema.Required) != 1 || out[0].OfTool.InputSchema.Required[0] != "query" {
		t.Errorf("required = %+v", out[0].OfTool.InputSchema.Required)
	}
}
