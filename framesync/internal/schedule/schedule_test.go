package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct {
	t      time.Time
	jitter time.Duration // oversleep added to every sleep
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d + c.jitter)
	return ctx.Err()
}

// runCycles runs the loop for n cycles; work returns how long cycle i takes.
func runCycles(t *testing.T, c *fakeClock, interval time.Duration, n int, work func(cycle int) time.Duration) []time.Time {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts []time.Time
	l := &Loop{Interval: interval, Now: c.Now, Sleep: c.Sleep}
	err := l.Run(ctx, func(ctx context.Context, cycle int) {
		starts = append(starts, c.t)
		c.t = c.t.Add(work(cycle))
		if cycle == n {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
	if len(starts) != n {
		t.Fatalf("cycles: got %d, want %d", len(starts), n)
	}
	return starts
}

func TestLoop_DriftCorrected(t *testing.T) {
	// WHAT: Cycles taking interval/2 start exactly one interval apart.
	// WHY: The cadence must be finish-time independent.
	const interval = 60 * time.Second
	c := &fakeClock{t: time.Unix(0, 0)}
	starts := runCycles(t, c, interval, 20, func(int) time.Duration { return interval / 2 })

	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap != interval {
			t.Fatalf("gap %d: got %v, want %v", i, gap, interval)
		}
	}
}

func TestLoop_DriftConvergesWithOversleep(t *testing.T) {
	const interval = 60 * time.Second
	c := &fakeClock{t: time.Unix(0, 0), jitter: 250 * time.Millisecond}
	starts := runCycles(t, c, interval, 20, func(int) time.Duration { return interval / 2 })

	// Only the first gap carries the oversleep; later ones absorb it.
	for i := 2; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap != interval {
			t.Fatalf("gap %d: got %v, want %v", i, gap, interval)
		}
	}
	if total := starts[len(starts)-1].Sub(starts[0]); total != 19*interval+c.jitter {
		t.Fatalf("drift accumulated: total %v", total)
	}
}

func TestLoop_OverrunResetsBaseline(t *testing.T) {
	// WHAT: A cycle taking 2x interval is followed at once by the next, then
	// the cadence resumes from that point.
	// WHY: No catch-up burst after a slow cycle.
	const interval = 60 * time.Second
	c := &fakeClock{t: time.Unix(0, 0)}
	starts := runCycles(t, c, interval, 5, func(cycle int) time.Duration {
		if cycle == 2 {
			return 2 * interval
		}
		return time.Second
	})

	end2 := starts[1].Add(2 * interval)
	if !starts[2].Equal(end2) {
		t.Fatalf("cycle 3 should start at once: got %v, want %v", starts[2], end2)
	}
	if gap := starts[3].Sub(starts[2]); gap != interval {
		t.Fatalf("baseline not reset: gap %v", gap)
	}
	if gap := starts[4].Sub(starts[3]); gap != interval {
		t.Fatalf("gap after reset: %v", gap)
	}
	// Sleeps: after 1, after 3, after 4 (none after the overrun), plus the
	// one after cycle 5 that observes cancellation.
	if len(c.sleeps) != 4 {
		t.Fatalf("sleeps: %v", c.sleeps)
	}
}

func TestNext(t *testing.T) {
	t0 := time.Unix(1000, 0)
	target, delay := Next(t0, t0.Add(10*time.Second), time.Minute)
	if !target.Equal(t0.Add(time.Minute)) || delay != 50*time.Second {
		t.Fatalf("got %v %v", target, delay)
	}

	now := t0.Add(2 * time.Minute)
	target, delay = Next(t0, now, time.Minute)
	if !target.Equal(now) || delay != 0 {
		t.Fatalf("overrun: got %v %v", target, delay)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRotator_RoundRobinWithRemoval(t *testing.T) {
	// WHAT: [a,b,c] rotate a,b,c,a,b; removing b keeps rotating over a and c.
	// WHY: The directory is re-listed every tick.
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpeg", "c.png", "notes.txt")

	var shown []string
	var types []string
	r := NewRotator(dir, time.Minute, func(ctx context.Context, data []byte, fileType string) error {
		shown = append(shown, string(data))
		types = append(types, fileType)
		return nil
	}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := r.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []string{"a.jpg", "b.jpeg", "c.png", "a.jpg", "b.jpeg"}
	for i := range want {
		if shown[i] != want[i] {
			t.Fatalf("rotation: got %v, want %v", shown, want)
		}
	}
	if types[2] != "png" || types[0] != "jpeg" {
		t.Fatalf("file types: %v", types)
	}

	os.Remove(filepath.Join(dir, "b.jpeg"))
	for i := 0; i < 2; i++ {
		name, err := r.Step(ctx)
		if err != nil {
			t.Fatalf("after removal: %v", err)
		}
		if name != "a.jpg" && name != "c.png" {
			t.Fatalf("removed file selected: %q", name)
		}
	}
	if st := r.Status(); st.Images != 2 || st.Running {
		t.Fatalf("status: %+v", st)
	}
}

func TestRotator_Empty(t *testing.T) {
	r := NewRotator(filepath.Join(t.TempDir(), "missing"), time.Minute, func(context.Context, []byte, string) error {
		t.Fatal("sync called with no images")
		return nil
	}, nil)
	if _, err := r.Step(context.Background()); !errors.Is(err, ErrNoImages) {
		t.Fatalf("got %v", err)
	}
}

func TestRotator_StartStop(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")

	synced := make(chan struct{}, 10)
	r := NewRotator(dir, time.Hour, func(context.Context, []byte, string) error {
		synced <- struct{}{}
		return nil
	}, nil)

	if !r.Start(context.Background()) {
		t.Fatal("start failed")
	}
	if r.Start(context.Background()) {
		t.Fatal("second start should report already running")
	}
	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("no sync after start")
	}
	if !r.Running() {
		t.Fatal("not running")
	}
	if !r.Stop() {
		t.Fatal("stop failed")
	}
	if r.Running() || r.Stop() {
		t.Fatal("still running after stop")
	}
	if st := r.Status(); st.Current != "a.jpg" {
		t.Fatalf("current: %q", st.Current)
	}
}

func TestIsImageName(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG": true, "b.jpeg": true, "c.png": true, "d.gif": false, "e": false,
	} {
		if IsImageName(name) != want {
			t.Errorf("%s: want %v", name, want)
		}
	}
}
