package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFieldsAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	log.With(String("conn_id", "c1")).Warn(ctx, "persist failed", Err(errors.New("disk full")), Int("attempt", 2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{
		"msg":        "persist failed",
		"level":      "WARN",
		"conn_id":    "c1",
		"error":      "disk full",
		"attempt":    float64(2),
		"request_id": "req-1",
	} {
		if rec[key] != want {
			t.Fatalf("log field %s = %v, want %v", key, rec[key], want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info/debug to be filtered, got %q", buf.String())
	}
	log.Error(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("expected Noop fallback")
	}
	stored := Noop().With(String("k", "v"))
	ctx := ContextWithLogger(context.Background(), stored)
	if FromContext(ctx, nil) != stored {
		t.Fatalf("expected stored logger")
	}
}

func TestEnsureRequestIDKeepsExisting(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("expected generated id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("EnsureRequestID changed id: %q -> %q", id, again)
	}
}
