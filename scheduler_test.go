package golem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureEmitter records emitted events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []string
	envs   []map[string]any
}

func (c *captureEmitter) Emit(_ context.Context, event string, env map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.envs = append(c.envs, env)
	c.mu.Unlock()
}

func (c *captureEmitter) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *captureEmitter) waitFor(t *testing.T, event string, d time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for i, e := range c.events {
			if e == event {
				env := c.envs[i]
				c.mu.Unlock()
				return env
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s not emitted within %v", event, d)
	return nil
}

func TestAddJobRejectsBadCron(t *testing.T) {
	s := NewScheduler(&captureEmitter{})
	defer s.Close()
	err := s.AddJob(CronJob{Name: "bad", Cron: "not a cron line"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("AddJob = %v, want ValidationError", err)
	}
}

func TestAddJobAcceptsTimezone(t *testing.T) {
	s := NewScheduler(&captureEmitter{})
	defer s.Close()
	if err := s.AddJob(CronJob{Name: "daily", Cron: "0 9 * * *", Timezone: "Europe/Berlin"}); err != nil {
		t.Fatalf("AddJob with timezone: %v", err)
	}
	if err := s.AddJob(CronJob{Name: "badtz", Cron: "0 9 * * *", Timezone: "Mars/Olympus"}); err == nil {
		t.Error("AddJob accepted an unknown timezone")
	}
}

func TestJobFireEmitsNamedAndGenericEvents(t *testing.T) {
	em := &captureEmitter{}
	s := NewScheduler(em)
	defer s.Close()

	s.fireJob("purge")
	got := em.list()
	if len(got) != 2 || got[0] != "scheduler:purge" || got[1] != "scheduler_tick" {
		t.Fatalf("events = %v, want [scheduler:purge scheduler_tick]", got)
	}
	env := em.envs[0]
	if env["job"] != "purge" {
		t.Errorf("job = %v, want purge", env["job"])
	}
	if _, ok := env["fired_at"].(float64); !ok {
		t.Errorf("fired_at = %T, want float64 millis", env["fired_at"])
	}
}

func TestTimerFires(t *testing.T) {
	em := &captureEmitter{}
	s := NewScheduler(em)
	defer s.Close()

	err := s.CreateTimer(context.Background(), "remind-1", 10*time.Millisecond, "reminder:due", map[string]any{"who": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	env := em.waitFor(t, "reminder:due", time.Second)
	if env["who"] != "u1" {
		t.Errorf("who = %v, want u1", env["who"])
	}
	if env["timer_id"] != "remind-1" {
		t.Errorf("timer_id = %v, want remind-1", env["timer_id"])
	}
}

func TestTimerCancel(t *testing.T) {
	em := &captureEmitter{}
	s := NewScheduler(em)
	defer s.Close()

	if err := s.CreateTimer(context.Background(), "x", 30*time.Millisecond, "fired", nil); err != nil {
		t.Fatal(err)
	}
	if !s.CancelTimer(context.Background(), "x") {
		t.Error("CancelTimer = false, want true for a pending timer")
	}
	if s.CancelTimer(context.Background(), "x") {
		t.Error("CancelTimer = true for an already-cancelled timer")
	}
	time.Sleep(80 * time.Millisecond)
	if got := em.list(); len(got) != 0 {
		t.Errorf("cancelled timer still fired: %v", got)
	}
}

func TestTimerReplaceCancelsOld(t *testing.T) {
	em := &captureEmitter{}
	s := NewScheduler(em)
	defer s.Close()

	if err := s.CreateTimer(context.Background(), "x", 20*time.Millisecond, "old", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTimer(context.Background(), "x", 40*time.Millisecond, "new", nil); err != nil {
		t.Fatal(err)
	}
	em.waitFor(t, "new", time.Second)
	for _, e := range em.list() {
		if e == "old" {
			t.Error("replaced timer still fired its old event")
		}
	}
}

func TestTimerRequiresIDAndEvent(t *testing.T) {
	s := NewScheduler(&captureEmitter{})
	defer s.Close()
	if err := s.CreateTimer(context.Background(), "", time.Second, "e", nil); err == nil {
		t.Error("empty id accepted")
	}
	if err := s.CreateTimer(context.Background(), "id", time.Second, "", nil); err == nil {
		t.Error("empty event accepted")
	}
}

func TestPersistedTimersRestoredOnStart(t *testing.T) {
	store := newMemoryTimerStore()
	em1 := &captureEmitter{}
	s1 := NewScheduler(em1, WithTimerStore(store))
	if err := s1.CreateTimer(context.Background(), "survivor", time.Hour, "later", nil); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	// A replacement scheduler sharing the store picks the timer back up. Its
	// instant is rewritten to the past so the restore fires immediately.
	saved, err := store.Load(context.Background())
	if err != nil || len(saved) != 1 {
		t.Fatalf("Load = %v, %v, want one persisted timer", saved, err)
	}
	saved[0].FiresAt = time.Now().Add(-time.Minute)
	if err := store.Save(context.Background(), saved[0]); err != nil {
		t.Fatal(err)
	}

	em2 := &captureEmitter{}
	s2 := NewScheduler(em2, WithTimerStore(store))
	defer s2.Close()
	if err := s2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	em2.waitFor(t, "later", time.Second)

	remaining, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("store still holds %d timers after fire, want 0", len(remaining))
	}
}

func TestStartIdempotent(t *testing.T) {
	s := NewScheduler(&captureEmitter{})
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("second Start = %v, want nil", err)
	}
}

func TestCloseCancelsPendingTimers(t *testing.T) {
	em := &captureEmitter{}
	s := NewScheduler(em)
	if err := s.CreateTimer(context.Background(), "x", 20*time.Millisecond, "fired", nil); err != nil {
		t.Fatal(err)
	}
	s.Close()
	time.Sleep(60 * time.Millisecond)
	if got := em.list(); len(got) != 0 {
		t.Errorf("timer fired after Close: %v", got)
	}
}
