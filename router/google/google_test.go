package google

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/tiborkr/tasquencer/router"
)

func TestNew_DefaultModelName(t *testing.T) {
	m := New("key", "")
	if m.modelName != "gemini-2.5-flash" {
		t.Errorf("modelName = %q, want default", m.modelName)
	}

	m = New("key", "gemini-2.5-pro")
	if m.modelName != "gemini-2.5-pro" {
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

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]router.Message{
		{Role: router.RoleUser, Content: "hi"},
		{Role: router.RoleAssistant, Content: ""},
	})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1 (empty content skipped)", len(out))
	}
}

func TestConvertType(t *testing.T) {
	tests := map[string]genai.Type{
		"string":  genai.TypeString,
		"number":  genai.TypeNumber,
		"integer": genai.TypeInteger,
		"boolean": genai.TypeBoolean,
		"array":   genai.TypeArray,
		"object":  genai.TypeObject,
		"bogus":   genai.TypeUnspecified,
	}
	for in, want := range tests {
		if got := convertType(in); got != want {
			t.Errorf("convertType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConvertSchema(t *testing.T) {
	if convertSchema(nil) != nil {
		t.Error("convertSchema(nil) should be nil")
	}

	schema := convertSchema(map[string]interface{}{
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "search text"},
		},
		"required": []interface{}{"query"},
	})
	if schema.Type != genai.TypeObject {
		t.Errorf("Type = %v, want object", schema.Type)
	}
	if schema.Properties["query"].Type != genai.TypeString {
		t.Errorf("query type = %v, want string", schema.Properties["query"].Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Errorf("Required = %+v", schema.Required)
	}
}

func TestConvertTools(t *testing.T) {
	tools := []router.ToolSpec{{Name: "search", Description: "search the web"}}
	out := convertTools(tools)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if out[0].FunctionDeclarations[0].Name != "search" {
		t.Errorf("Name = %q", out[0].FunctionDeclarations[0].Name)
	}
}
