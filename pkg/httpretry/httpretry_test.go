package httpretry

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRetriesTransientFailures(t *testing.T) {
	exec := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, "test")

	var attempts int32
	resp, err := exec.Do(context.Background(), func() (*http.Response, error) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			return nil, errors.New("connection reset")
		}
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestExecutorDoesNotRetryNonRetryableStatus(t *testing.T) {
	exec := New(DefaultConfig(), nil, "test")

	var attempts int32
	resp, err := exec.Do(context.Background(), func() (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return &http.Response{StatusCode: http.StatusNotFound}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 to pass through, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable status, got %d", got)
	}
}

func TestExecutorTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	exec := New(Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, "test")

	for i := 0; i < 20; i++ {
		_, _ = exec.Do(context.Background(), func() (*http.Response, error) {
			return nil, errors.New("upstream down")
		})
	}
	if !exec.IsOpen() {
		t.Fatal("expected circuit breaker to be open after repeated failures")
	}
}
