package cmd

import (
	"sync"
	"testing"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) record(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Percent
	}
	return out
}

func assertStrictlyIncreasing(t *testing.T, percents []int) {
	t.Helper()
	for i := 1; i < len(percents); i++ {
		if percents[i] <= percents[i-1] {
			t.Fatalf("percents not strictly increasing: %v", percents)
		}
	}
	for _, p := range percents {
		if p < 0 || p > 100 || p%10 != 0 {
			t.Fatalf("unexpected percent %d in %v", p, percents)
		}
	}
}

func TestProgressTracker(t *testing.T) {
	t.Run("every decile once for small steps", func(t *testing.T) {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("a.csv", 1000, rec.record)
		for i := 0; i < 100; i++ {
			tracker.Add(10)
		}

		got := rec.percents()
		want := []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("jump reports only the highest boundary", func(t *testing.T) {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("a.csv", 100, rec.record)
		tracker.Add(5)
		tracker.Add(40)
		tracker.Add(55)

		got := rec.percents()
		want := []int{0, 40, 100}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("overshoot is capped at 100", func(t *testing.T) {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("a.csv", 10, rec.record)
		tracker.Add(10)
		tracker.Add(10)

		got := rec.percents()
		if len(got) != 1 || got[0] != 100 {
			t.Fatalf("expected [100], got %v", got)
		}
		if tracker.BytesSeen() != 20 {
			t.Errorf("expected 20 bytes seen, got %d", tracker.BytesSeen())
		}
	})

	t.Run("zero byte file reports 100 on finish", func(t *testing.T) {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("empty.csv", 0, rec.record)
		tracker.Finish()
		tracker.Finish()

		got := rec.percents()
		if len(got) != 1 || got[0] != 100 {
			t.Fatalf("expected [100], got %v", got)
		}
	})

	t.Run("finish after a complete transfer adds nothing", func(t *testing.T) {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("a.csv", 10, rec.record)
		tracker.Add(10)
		tracker.Finish()
		if len(rec.percents()) != 1 {
			t.Fatalf("expected one event, got %v", rec.percents())
		}
	})

	t.Run("nil emitter", func(t *testing.T) {
		tracker := NewProgressTracker("a.csv", 10, nil)
		tracker.Add(10)
		tracker.Finish()
	})
}

func TestProgressTrackerConcurrent(t *testing.T) {
	const (
		parts     = 2
		perPart   = 5000
		chunkSize = 7
	)
	size := int64(parts * perPart * chunkSize)

	for round := 0; round < 20; round++ {
		rec := &eventRecorder{}
		tracker := NewProgressTracker("big.csv", size, rec.record)

		var wg sync.WaitGroup
		for p := 0; p < parts; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perPart; i++ {
					tracker.Add(chunkSize)
				}
			}()
		}
		wg.Wait()

		percents := rec.percents()
		assertStrictlyIncreasing(t, percents)
		if len(percents) != 11 {
			t.Fatalf("round %d: expected 11 milestones, got %v", round, percents)
		}
		if tracker.BytesSeen() != size {
			t.Fatalf("round %d: expected %d bytes, got %d", round, size, tracker.BytesSeen())
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{25 * 1024 * 1024, "25.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}
