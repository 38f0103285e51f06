package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
	}{
		{"empty input", []any{}},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}},
		{"time type", []any{"t", now}},
		{"duration type", []any{"d", 5 * time.Second}},
		{"bytes", []any{"data", []byte("xyz")}},
		{"error only", []any{err}},
		{"multiple errors", []any{err, errors.New("again")}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}},
		{"odd number of args", []any{"key1", "val1", "key2"}},
		{"non-string key", []any{123, "value", true, 99}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if fields == nil && len(tt.input) > 0 {
				t.Errorf("nil fields for non-empty input: %v", tt.input)
			}

			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestToFieldsPairCount(t *testing.T) {
	fields := toFields("a", 1, "b", 2)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].Key != "a" || fields[1].Key != "b" {
		t.Fatalf("unexpected keys: %q %q", fields[0].Key, fields[1].Key)
	}
}
