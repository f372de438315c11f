package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "captcha iframe detected",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "timeout",
			limit:  10,
			expect: "timeout",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "navigation failed",
			limit:  10,
			expect: "navigation...",
		},
		{
			name:   "trims surrounding whitespace",
			input:  "  spaced  ",
			limit:  5,
			expect: "space...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    time.Duration
		limit   time.Duration
		attempt int
		expect  time.Duration
	}{
		{name: "first attempt uses base", base: time.Second, limit: time.Minute, attempt: 1, expect: time.Second},
		{name: "doubles per attempt", base: time.Second, limit: time.Minute, attempt: 3, expect: 4 * time.Second},
		{name: "capped by limit", base: 30 * time.Second, limit: time.Minute, attempt: 5, expect: time.Minute},
		{name: "no limit", base: time.Second, limit: 0, attempt: 4, expect: 8 * time.Second},
		{name: "zero attempt", base: time.Second, limit: time.Minute, attempt: 0, expect: 0},
		{name: "zero base", base: 0, limit: time.Minute, attempt: 3, expect: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Backoff(tt.base, tt.limit, tt.attempt); got != tt.expect {
				t.Fatalf("expected %s, got %s", tt.expect, got)
			}
		})
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitFor(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero duration, got %v", err)
	}
}
