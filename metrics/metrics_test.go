package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test.counter")
	if c.Value() != 0 {
		t.Fatalf("new counter = %d, want 0", c.Value())
	}
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("counter = %d, want 5", c.Value())
	}
	// Counters are monotonic.
	c.Add(-3)
	c.Add(0)
	if c.Value() != 5 {
		t.Fatalf("counter after non-positive adds = %d, want 5", c.Value())
	}
	if c.Name() != "test.counter" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test.gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("gauge = %d, want 9", g.Value())
	}
	g.Set(-42)
	if g.Value() != -42 {
		t.Fatalf("gauge = %d, want -42", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test.hist")

	if h.Count() != 0 || h.Min() != 0 || h.Max() != 0 || h.Mean() != 0 {
		t.Fatal("empty histogram should report zeroes")
	}

	for _, v := range []float64{5, -2, 11, 4} {
		h.Observe(v)
	}
	s := h.Stats()
	if s.Count != 4 {
		t.Errorf("count = %d, want 4", s.Count)
	}
	if s.Sum != 18 {
		t.Errorf("sum = %g, want 18", s.Sum)
	}
	if s.Min != -2 {
		t.Errorf("min = %g, want -2", s.Min)
	}
	if s.Max != 11 {
		t.Errorf("max = %g, want 11", s.Max)
	}
	if s.Mean() != 4.5 {
		t.Errorf("mean = %g, want 4.5", s.Mean())
	}
}

func TestHistogramSingleObservation(t *testing.T) {
	h := NewHistogram("test.single")
	h.Observe(7)
	if h.Min() != 7 || h.Max() != 7 || h.Mean() != 7 {
		t.Fatalf("single observation: min=%g max=%g mean=%g, want 7",
			h.Min(), h.Max(), h.Mean())
	}
}

func TestTimer(t *testing.T) {
	h := NewHistogram("test.timer")
	tm := NewTimer(h)
	time.Sleep(5 * time.Millisecond)
	d := tm.Stop()
	if d < 5*time.Millisecond {
		t.Fatalf("duration %s too short", d)
	}
	if h.Count() != 1 {
		t.Fatalf("histogram count = %d, want 1", h.Count())
	}
}

func TestTimerNilHistogram(t *testing.T) {
	tm := NewTimer(nil)
	if d := tm.Stop(); d < 0 {
		t.Fatal("negative duration")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCounter("test.concurrent.counter")
	g := NewGauge("test.concurrent.gauge")
	h := NewHistogram("test.concurrent.hist")

	const workers, each = 8, 1000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				c.Inc()
				g.Inc()
				h.Observe(1)
			}
		}()
	}
	wg.Wait()

	want := int64(workers * each)
	if c.Value() != want {
		t.Errorf("counter = %d, want %d", c.Value(), want)
	}
	if g.Value() != want {
		t.Errorf("gauge = %d, want %d", g.Value(), want)
	}
	if h.Count() != want {
		t.Errorf("histogram count = %d, want %d", h.Count(), want)
	}
	if h.Sum() != float64(want) {
		t.Errorf("histogram sum = %g, want %d", h.Sum(), want)
	}
}
