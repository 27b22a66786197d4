package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
		" error ": zerolog.ErrorLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithRequestID(context.Background(), "req-123")
	ctx = logg.WithEventID(ctx, "evt_1")
	logg.Info(ctx, "hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log output: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("missing request_id in %v", entry)
	}
	if entry["event_id"] != "evt_1" {
		t.Fatalf("missing event_id in %v", entry)
	}
	if entry["service"] != "test" {
		t.Fatalf("missing service field in %v", entry)
	}
}

func TestErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	logg.Error(context.Background(), "boom", errors.New("kaput"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log output: %v", err)
	}
	if entry["error"] != "kaput" {
		t.Fatalf("missing error field in %v", entry)
	}
	if entry["stack"] == nil || entry["stack"] == "" {
		t.Fatal("expected stack trace on error logs")
	}
}
