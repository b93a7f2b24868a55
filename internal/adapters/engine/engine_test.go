package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSimulatedEngine_Deterministic(t *testing.T) {
	e := NewSimulatedEngine(WithLatencyRange(time.Millisecond, 2*time.Millisecond))
	ctx := context.Background()

	first, err := e.Review(ctx, "python", "print(1)")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	second, err := e.Review(ctx, "python", "print(1)")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("same input produced different payloads:\n%s\n%s", first, second)
	}

	other, err := e.Review(ctx, "python", "print(2)")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if string(first) == string(other) {
		t.Error("different input produced identical payloads")
	}
}

func TestSimulatedEngine_PayloadShape(t *testing.T) {
	e := NewSimulatedEngine(WithLatencyRange(time.Millisecond, 2*time.Millisecond))
	raw, err := e.Review(context.Background(), "go", "package main")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}

	var payload struct {
		Score *int `json:"score"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Score == nil {
		t.Fatal("payload missing score")
	}
	if *payload.Score < 1 || *payload.Score > 10 {
		t.Errorf("score %d outside [1,10]", *payload.Score)
	}
}

func TestSimulatedEngine_ContextCancel(t *testing.T) {
	e := NewSimulatedEngine(WithLatencyRange(time.Second, 2*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := e.Review(ctx, "go", "x"); err == nil {
		t.Error("expected error when context expires before latency elapses")
	}
}

func TestHTTPEngine_Review(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Language != "python" {
			t.Errorf("unexpected language %q", req.Language)
		}
		w.Write([]byte(`{"score": 5}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	raw, err := e.Review(context.Background(), "python", "print(1)")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if string(raw) != `{"score": 5}` {
		t.Errorf("unexpected body %q", raw)
	}
}

func TestHTTPEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	if _, err := e.Review(context.Background(), "python", "x"); err == nil {
		t.Error("expected error on non-200 status")
	}
}
