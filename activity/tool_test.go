package activity

import (
	"context"
	"errors"
	"testing"
)

type stubTool struct {
	name   string
	called bool
	input  map[string]interface{}
	output map[string]interface{}
	err    error
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Call(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	s.called = true
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

func TestTool_InterfaceContract(t *testing.T) {
	var _ Tool = (*stubTool)(nil)
}

func TestTool_Call_Success(t *testing.T) {
	tool := &stubTool{name: "echo", output: map[string]interface{}{"message": "hello"}}

	result, err := tool.Call(context.Background(), map[string]interface{}{"text": "hello"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["message"] != "hello" {
		t.Errorf("result = %v", result)
	}
	if !tool.called || tool.input["text"] != "hello" {
		t.Error("tool did not record call/input")
	}
}

func TestTool_Call_Error(t *testing.T) {
	wrapped := errors.Join(errors.New("wrapper"), errors.New("base"))
	tool := &stubTool{name: "failing", err: wrapped}

	result, err := tool.Call(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestTool_ConcurrentCalls(t *testing.T) {
	tool := &MockTool{ToolName: "concurrent", Responses: []map[string]interface{}{{"status": "success"}}}

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(id int) {
			_, err := tool.Call(context.Background(), map[string]interface{}{"id": id})
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
	if tool.CallCount() != n {
		t.Errorf("CallCount() = %d, want %d", tool.CallCount(), n)
	}
}
