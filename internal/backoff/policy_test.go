package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPipelineDelaysAreDeterministic(t *testing.T) {
	policy := Pipeline()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // 16s clamped to cap
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayWithRandJitter(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.5}

	// randomValue 1.0 adds the full jitter fraction.
	got := policy.DelayWithRand(1, 1.0)
	want := 150 * time.Millisecond
	if got != want {
		t.Errorf("DelayWithRand(1, 1.0) = %v, want %v", got, want)
	}

	// randomValue 0 yields the base delay.
	if got := policy.DelayWithRand(2, 0); got != 200*time.Millisecond {
		t.Errorf("DelayWithRand(2, 0) = %v, want 200ms", got)
	}
}

func TestDelayClampsNegativeAttempt(t *testing.T) {
	policy := Pipeline()
	if got := policy.Delay(0); got != 2*time.Second {
		t.Errorf("Delay(0) = %v, want initial 2s", got)
	}
}

func TestSleepRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("Sleep returned nil on cancelled context")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep blocked %v after cancellation", elapsed)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}
