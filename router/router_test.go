package router

import (
	"context"
	"errors"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
)

func routeCtx() engine.RouteCtx {
	return engine.RouteCtx{
		ToTask:      engine.ToTask,
		ToCondition: engine.ToCondition,
	}
}

func TestLLM_Route_ToolCall(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{
			{ToolCalls: []ToolCall{{Name: chooseRouteTool, Input: map[string]interface{}{
				"targets": []interface{}{"approve"},
			}}}},
		},
	}
	r := &LLM{Model: mock, Targets: []string{"approve", "reject"}}

	routings, err := r.Route(context.Background(), routeCtx())
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(routings) != 1 || routings[0].ConditionName != "approve" {
		t.Fatalf("unexpected routings: %+v", routings)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestLLM_Route_PlainTextFallback(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "- approve\n- escalate"}}}
	r := &LLM{Model: mock, Targets: []string{"approve", "escalate", "reject"}}

	routings, err := r.Route(context.Background(), routeCtx())
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(routings) != 2 {
		t.Fatalf("expected 2 routings, got %d", len(routings))
	}
}

func TestLLM_Route_UnknownTarget(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "nonexistent"}}}
	r := &LLM{Model: mock, Targets: []string{"approve"}}

	if _, err := r.Route(context.Background(), routeCtx()); err == nil {
		t.Fatal("expected error for unknown route target")
	}
}

func TestLLM_Route_NoDecision(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{}}}
	r := &LLM{Model: mock, Targets: []string{"approve"}}

	if _, err := r.Route(context.Background(), routeCtx()); err == nil {
		t.Fatal("expected error when model returns neither text nor tool call")
	}
}

func TestLLM_Route_ModelError(t *testing.T) {
	mock := &MockChatModel{Err: errors.New("provider unavailable")}
	r := &LLM{Model: mock, Targets: []string{"approve"}}

	if _, err := r.Route(context.Background(), routeCtx()); err == nil {
		t.Fatal("expected error to propagate from ChatModel")
	}
}

func TestMockChatModel_RespondsInOrderThenRepeats(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}

	out, err := mock.Chat(context.Background(), nil, nil)
	if err != nil || out.Text != "first" {
		t.Fatalf("got (%+v, %v), want first", out, err)
	}
	out, _ = mock.Chat(context.Background(), nil, nil)
	if out.Text != "second" {
		t.Fatalf("got %q, want second", out.Text)
	}
	out, _ = mock.Chat(context.Background(), nil, nil)
	if out.Text != "second" {
		t.Fatalf("expected last response to repeat, got %q", out.Text)
	}
	if mock.CallCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", mock.CallCount())
	}
}
