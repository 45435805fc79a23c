package activity

import (
	"context"
	"errors"
	"testing"
)

func TestMockTool_Name(t *testing.T) {
	if (&MockTool{ToolName: "search_web"}).Name() != "search_web" {
		t.Error("Name() did not return configured name")
	}
	if (&MockTool{}).Name() != "" {
		t.Error("Name() should be empty when unconfigured")
	}
}

func TestMockTool_RespondsInOrderThenRepeats(t *testing.T) {
	mock := &MockTool{
		ToolName:  "calculator",
		Responses: []map[string]interface{}{{"result": 1}, {"result": 2}},
	}

	out, err := mock.Call(context.Background(), nil)
	if err != nil || out["result"] != 1 {
		t.Fatalf("got (%v, %v), want result=1", out, err)
	}
	out, _ = mock.Call(context.Background(), nil)
	if out["result"] != 2 {
		t.Fatalf("got %v, want result=2", out)
	}
	out, _ = mock.Call(context.Background(), nil)
	if out["result"] != 2 {
		t.Fatalf("expected last response to repeat, got %v", out)
	}
}

func TestMockTool_NoResponsesConfigured(t *testing.T) {
	mock := &MockTool{ToolName: "empty"}
	out, err := mock.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("out = %v, want empty map", out)
	}
}

func TestMockTool_Err(t *testing.T) {
	wantErr := errors.New("api timeout")
	mock := &MockTool{ToolName: "flaky", Err: wantErr}

	_, err := mock.Call(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Call: got %v, want %v", err, wantErr)
	}
}

func TestMockTool_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &MockTool{ToolName: "ctx"}
	if _, err := mock.Call(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Call: got %v, want context.Canceled", err)
	}
}

func TestMockTool_RecordsCalls(t *testing.T) {
	mock := &MockTool{ToolName: "recorder"}

	_, _ = mock.Call(context.Background(), map[string]interface{}{"id": 1})
	_, _ = mock.Call(context.Background(), map[string]interface{}{"id": 2})

	if mock.CallCount() != 2 {
		t.Fatalf("CallCount() = %d, want 2", mock.CallCount())
	}
	if mock.Calls[0].Input["id"] != 1 || mock.Calls[1].Input["id"] != 2 {
		t.Errorf("Calls = %+v", mock.Calls)
	}
}

func TestMockTool_Reset(t *testing.T) {
	mock := &MockTool{ToolName: "resettable", Responses: []map[string]interface{}{{"ok": true}}}

	_, _ = mock.Call(context.Background(), nil)
	_, _ = mock.Call(context.Background(), nil)
	mock.Reset()

	if mock.CallCount() != 0 {
		t.Fatalf("CallCount() after Reset = %d, want 0", mock.CallCount())
	}

	out, err := mock.Call(context.Background(), nil)
	if err != nil || out["ok"] != true {
		t.Fatalf("got (%v, %v) after reset, want ok=true", out, err)
	}
}
