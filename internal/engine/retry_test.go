package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithPolicy(t *testing.T) {
	ctx := context.Background()
	fastPolicy := RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	tests := []struct {
		name         string
		failures     int
		class        RetryClass
		wantErr      bool
		wantExhaust  bool
		wantAttempts int
	}{
		{name: "immediate success", failures: 0, class: RetryClassRetryable, wantAttempts: 1},
		{name: "recovers after two failures", failures: 2, class: RetryClassRetryable, wantAttempts: 3},
		{name: "non-retryable fails fast", failures: 5, class: RetryClassNonRetryable, wantErr: true, wantAttempts: 1},
		{name: "exhausts retries", failures: 10, class: RetryClassRetryable, wantErr: true, wantExhaust: true, wantAttempts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_, err := RetryWithPolicy(
				ctx,
				fastPolicy,
				func(ctx context.Context) (string, error) {
					attempts++
					if attempts <= tt.failures {
						return "", errors.New("transient")
					}
					return "ok", nil
				},
				func(error) RetryClass { return tt.class },
				nil,
			)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantExhaust && !IsRetryExhausted(err) {
				t.Errorf("expected RetryExhaustedError, got %v", err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestClassifyLLMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"rate limit", errors.New("429 too many requests"), RetryClassRetryable},
		{"server error", errors.New("503 service unavailable"), RetryClassRetryable},
		{"timeout", errors.New("dial tcp: i/o timeout"), RetryClassRetryable},
		{"context window", errors.New("maximum context length exceeded, token limit"), RetryClassMaybe},
		{"auth", errors.New("401 unauthorized"), RetryClassNonRetryable},
		{"bad request", errors.New("400 bad request"), RetryClassNonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyLLMError(tt.err); got != tt.want {
				t.Errorf("ClassifyLLMError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryToolCallNonRetryable(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	reg := ToolRegistry{
		"download": {
			Name:      "download",
			Retryable: false,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				attempts++
				return "", errors.New("timeout") // retryable-looking, but the tool is not
			},
		},
	}

	_, err := RetryToolCall(ctx, RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2}, ToolCall{Name: "download"}, reg, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable tool", attempts)
	}
}
