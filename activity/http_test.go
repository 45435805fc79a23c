package activity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTool_Name(t *testing.T) {
	if got := NewHTTPTool().Name(); got != "http_request" {
		t.Errorf("Name() = %q, want http_request", got)
	}
}

func TestHTTPTool_GET_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("got %s, want GET", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "success"})
	}))
	defer server.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    server.URL,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["status_code"].(int) != 200 {
		t.Errorf("status_code = %v, want 200", result["status_code"])
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(result["body"].(string)), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["message"] != "success" {
		t.Errorf("body message = %q", body["message"])
	}
}

func TestHTTPTool_POST_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody["name"] != "test" {
			t.Errorf("request body name = %v", reqBody["name"])
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	bodyJSON, _ := json.Marshal(map[string]interface{}{"name": "test"})
	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "POST",
		"url":    server.URL,
		"body":   string(bodyJSON),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["status_code"].(int) != 201 {
		t.Errorf("status_code = %v, want 201", result["status_code"])
	}
}

func TestHTTPTool_WithHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token123" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte("authenticated"))
	}))
	defer server.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method":  "GET",
		"url":     server.URL,
		"headers": map[string]interface{}{"Authorization": "Bearer token123"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["body"].(string) != "authenticated" {
		t.Errorf("body = %q", result["body"])
	}
}

func TestHTTPTool_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewHTTPTool().Call(ctx, map[string]interface{}{"method": "GET", "url": server.URL})
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestHTTPTool_Error_MissingURL(t *testing.T) {
	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"method": "GET"})
	if err == nil {
		t.Error("expected error for missing url")
	}
}

func TestHTTPTool_Error_UnsupportedMethod(t *testing.T) {
	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "DELETE",
		"url":    "http://example.com",
	})
	if err == nil {
		t.Error("expected error for unsupported method")
	}
}

func TestHTTPTool_Error_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "GET",
		"url":    server.URL,
	})
	if err != nil {
		t.Fatalf("Call: %v, want nil (errors returned in response)", err)
	}
	if result["status_code"].(int) != 500 {
		t.Errorf("status_code = %v, want 500", result["status_code"])
	}
}

func TestHTTPTool_DefaultMethod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("got %s, want default GET", r.Method)
		}
	}))
	defer server.Close()

	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
}
