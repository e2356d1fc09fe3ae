package metrics

import (
	"math"
	"strings"
	"testing"
)

func TestCounterLabelsAreSeparateSeries(t *testing.T) {
	c := New()
	c.Increment("commands_total", 1, map[string]string{"name": "ping"})
	c.Increment("commands_total", 1, map[string]string{"name": "ping"})
	c.Increment("commands_total", 5, map[string]string{"name": "ban"})
	c.Increment("commands_total", 1, nil)

	if got := c.Counter("commands_total", map[string]string{"name": "ping"}); got != 2 {
		t.Errorf("ping = %v, want 2", got)
	}
	if got := c.Counter("commands_total", map[string]string{"name": "ban"}); got != 5 {
		t.Errorf("ban = %v, want 5", got)
	}
	if got := c.Counter("commands_total", nil); got != 1 {
		t.Errorf("unlabeled = %v, want 1", got)
	}
}

func TestCounterLabelOrderIrrelevant(t *testing.T) {
	c := New()
	c.Increment("m", 1, map[string]string{"a": "1", "b": "2"})
	if got := c.Counter("m", map[string]string{"b": "2", "a": "1"}); got != 1 {
		t.Errorf("reordered labels = %v, want same series", got)
	}
}

func TestGaugeLastWriteWins(t *testing.T) {
	c := New()
	c.SetGauge("members", 10)
	c.SetGauge("members", 7)
	c.SetGauge("temperature", -2.5)
	if got := c.Gauge("members"); got != 7 {
		t.Errorf("members = %v, want 7", got)
	}
	if got := c.Gauge("temperature"); got != -2.5 {
		t.Errorf("temperature = %v, want -2.5", got)
	}
	if got := c.Gauge("absent"); got != 0 {
		t.Errorf("absent gauge = %v, want 0", got)
	}
}

func TestHistogramBucketsAndCount(t *testing.T) {
	c := New()
	c.Observe("latency", 0.003)
	c.Observe("latency", 0.2)
	c.Observe("latency", 3)
	c.Observe("latency", 100) // above every bound, lands only in +Inf

	snap, ok := c.Histogram("latency")
	if !ok {
		t.Fatal("histogram missing")
	}
	if snap.Count != 4 {
		t.Errorf("Count = %d, want 4", snap.Count)
	}
	if math.Abs(snap.Sum-103.203) > 1e-9 {
		t.Errorf("Sum = %v, want 103.203", snap.Sum)
	}
	if got := snap.Buckets[0.005]; got != 1 {
		t.Errorf("bucket 0.005 = %d, want 1", got)
	}
	if got := snap.Buckets[0.25]; got != 2 {
		t.Errorf("bucket 0.25 = %d, want 2", got)
	}
	if got := snap.Buckets[10]; got != 3 {
		t.Errorf("bucket 10 = %d, want 3", got)
	}
}

func TestHistogramWindowEviction(t *testing.T) {
	c := New(WithWindowSize(3))
	c.Observe("h", 1)
	c.Observe("h", 2)
	c.Observe("h", 3)
	c.Observe("h", 4) // evicts 1

	snap, _ := c.Histogram("h")
	if snap.Sum != 9 {
		t.Errorf("Sum = %v, want windowed 9", snap.Sum)
	}
	if snap.Count != 4 {
		t.Errorf("Count = %d, want lifetime 4", snap.Count)
	}

	c.Observe("h", 5) // evicts 2
	snap, _ = c.Histogram("h")
	if snap.Sum != 12 {
		t.Errorf("Sum = %v, want 12", snap.Sum)
	}
	if snap.Count != 5 {
		t.Errorf("Count = %d, want 5", snap.Count)
	}
}

func TestHistogramBucketsSurviveEviction(t *testing.T) {
	c := New(WithWindowSize(2))
	for i := 0; i < 10; i++ {
		c.Observe("h", 0.001)
	}
	snap, _ := c.Histogram("h")
	if got := snap.Buckets[0.005]; got != 10 {
		t.Errorf("bucket 0.005 = %d, want lifetime 10", got)
	}
}

func TestHistogramMissing(t *testing.T) {
	c := New()
	if _, ok := c.Histogram("nope"); ok {
		t.Error("Histogram reported a series that was never observed")
	}
}

func TestExportFormat(t *testing.T) {
	c := New()
	c.Increment("events_total", 3, map[string]string{"event": "message"})
	c.SetGauge("uptime_seconds", 12.5)
	c.Observe("latency", 0.3)

	out := c.Export()
	for _, want := range []string{
		"# TYPE events_total counter",
		`events_total{event="message"} 3`,
		"# TYPE uptime_seconds gauge",
		"uptime_seconds 12.5",
		"# TYPE latency histogram",
		`latency_bucket{le="0.5"} 1`,
		`latency_bucket{le="+Inf"} 1`,
		"latency_sum 0.3",
		"latency_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Export missing %q:\n%s", want, out)
		}
	}
}

func TestExportUnlabeledCounterOmitsBraces(t *testing.T) {
	c := New()
	c.Increment("ticks_total", 1, nil)
	out := c.Export()
	if !strings.Contains(out, "ticks_total 1\n") {
		t.Errorf("unlabeled counter rendered with braces:\n%s", out)
	}
}

func TestResetClearsEverything(t *testing.T) {
	c := New()
	c.Increment("a", 1, nil)
	c.SetGauge("b", 1)
	c.Observe("c", 1)
	c.Reset()

	if got := c.Counter("a", nil); got != 0 {
		t.Errorf("counter after reset = %v, want 0", got)
	}
	if got := c.Gauge("b"); got != 0 {
		t.Errorf("gauge after reset = %v, want 0", got)
	}
	if _, ok := c.Histogram("c"); ok {
		t.Error("histogram survived reset")
	}
	if out := c.Export(); out != "" {
		t.Errorf("Export after reset = %q, want empty", out)
	}
}
