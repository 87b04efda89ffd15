package fetch

import (
	"context"
	"testing"
	"time"
)

// recordingPacer returns a Pacer whose sleeps are recorded instead of performed
func recordingPacer(slept *[]time.Duration) *Pacer {
	p := NewPacer(testLogger())
	p.wait = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return p
}

func TestPacerWait_RespectsContextCancellation(t *testing.T) {
	p := NewPacer(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Wait(ctx, 5*time.Second, time.Second)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("expected context error from cancelled wait")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Wait with cancelled context took %v, expected <100ms", elapsed)
	}
}

func TestPacerWait_SleepsForExpectedDuration(t *testing.T) {
	p := NewPacer(testLogger())

	start := time.Now()
	if err := p.Wait(context.Background(), 100*time.Millisecond, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 90*time.Millisecond {
		t.Errorf("Wait returned too quickly: %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Wait took too long: %v", elapsed)
	}
}

func TestPacerWait_JitterBounds(t *testing.T) {
	var slept []time.Duration
	p := recordingPacer(&slept)

	for i := 0; i < 200; i++ {
		if err := p.Wait(context.Background(), time.Second, 500*time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for _, d := range slept {
		if d < time.Second || d >= 1500*time.Millisecond {
			t.Fatalf("pause %v outside [1s, 1.5s)", d)
		}
	}
}

func TestPacerBetween_ZeroIsInstant(t *testing.T) {
	var slept []time.Duration
	p := recordingPacer(&slept)

	if err := p.Between(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slept) != 0 {
		t.Errorf("expected no sleep, got %v", slept)
	}
}

func TestPacerBetween_InvertedRangeUsesLowerBound(t *testing.T) {
	var slept []time.Duration
	p := recordingPacer(&slept)

	_ = p.Between(context.Background(), 200*time.Millisecond, 100*time.Millisecond)
	if len(slept) != 1 || slept[0] != 200*time.Millisecond {
		t.Errorf("expected single 200ms pause, got %v", slept)
	}
}
