package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestPermanentKeepsCause(t *testing.T) {
	cause := errors.New("signer not configured")
	err := Permanent(cause)
	if !errors.Is(err, ErrPermanent) || !errors.Is(err, cause) {
		t.Fatalf("Permanent(%v) lost its classification or cause", cause)
	}
	if err.Error() != cause.Error() {
		t.Fatalf("Error() = %q, want %q", err.Error(), cause.Error())
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	transport := errors.New("connection refused")
	cases := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"transport failure", 0, transport, true},
		{"deadline", 0, fmt.Errorf("send: %w", context.DeadlineExceeded), false},
		{"canceled", 0, context.Canceled, false},
		{"unavailable", 503, errors.New("status 503"), true},
		{"unauthorized", 401, errors.New("status 401"), false},
		{"permanent local failure", 0, fmt.Errorf("mint: %w", Permanent(errors.New("no secret"))), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.status, tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable(%d, %v) = %v, want %v", tc.name, tc.status, tc.err, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, capDur); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want %v", got, 200*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
}
