package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestHTTPTool_GetWithQueryAndHeaders(t *testing.T) {
	var gotQuery, gotAccept, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_count": 2}`))
	}))
	defer srv.Close()

	h := NewHTTPTool(WithHeader("Authorization", "token abc"))
	out, err := h.Call(context.Background(), map[string]any{
		"url":     srv.URL + "/search",
		"query":   map[string]any{"q": "rust async"},
		"headers": map[string]any{"Accept": "application/vnd.github.v3+json"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if gotQuery != "rust async" {
		t.Errorf("query q = %q", gotQuery)
	}
	if gotAccept != "application/vnd.github.v3+json" || gotAuth != "token abc" {
		t.Errorf("headers: accept=%q auth=%q", gotAccept, gotAuth)
	}
	if out["status_code"] != http.StatusOK {
		t.Errorf("status_code = %v", out["status_code"])
	}
	decoded, ok := out["json"].(map[string]any)
	if !ok || decoded["total_count"] != 2.0 {
		t.Errorf("json = %#v", out["json"])
	}
}

func TestHTTPTool_NonSuccessIsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusForbidden {
		t.Errorf("status_code = %v", out["status_code"])
	}
}

func TestHTTPTool_InvalidInput(t *testing.T) {
	h := NewHTTPTool()
	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing url", map[string]any{}},
		{"bad method", map[string]any{"url": "http://example.com", "method": "DELETE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.Call(context.Background(), tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHTTPTool_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := NewHTTPTool(WithRateLimit(rate.Every(time.Hour), 1))
	if _, err := h.Call(context.Background(), map[string]any{"url": srv.URL}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.Call(ctx, map[string]any{"url": srv.URL}); err == nil {
		t.Fatal("second call should fail waiting for the limiter")
	}
}

func TestMockTool(t *testing.T) {
	m := &MockTool{ToolName: "search", Responses: []map[string]any{{"n": 1}, {"n": 2}}}
	ctx := context.Background()

	for _, want := range []int{1, 2, 2} {
		out, err := m.Call(ctx, map[string]any{})
		if err != nil {
			t.Fatal(err)
		}
		if out["n"] != want {
			t.Errorf("n = %v, want %d", out["n"], want)
		}
	}
	if m.CallCount() != 3 || m.Name() != "search" {
		t.Errorf("CallCount = %d, Name = %q", m.CallCount(), m.Name())
	}
}
