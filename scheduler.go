package golem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// EventEmitter is where scheduler fires land. The router satisfies it.
type EventEmitter interface {
	Emit(ctx context.Context, event string, env map[string]any)
}

// CronJob is one recurring job from the document. Timezone is an IANA zone
// name; empty means the process-local zone.
type CronJob struct {
	Name     string
	Cron     string
	Timezone string
}

// Timer is a pending one-shot timer. FiresAt lets a TimerStore rebuild
// timers across restarts.
type Timer struct {
	ID      string
	FiresAt time.Time
	Event   string
	Data    map[string]any
}

// TimerStore persists one-shot timers across restarts. The default keeps
// them in memory only.
type TimerStore interface {
	Save(ctx context.Context, t Timer) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]Timer, error)
}

// memoryTimerStore is the default TimerStore. Timers do not survive a
// restart.
type memoryTimerStore struct {
	mu     sync.Mutex
	timers map[string]Timer
}

var _ TimerStore = (*memoryTimerStore)(nil)

func newMemoryTimerStore() *memoryTimerStore {
	return &memoryTimerStore{timers: make(map[string]Timer)}
}

func (s *memoryTimerStore) Save(_ context.Context, t Timer) error {
	s.mu.Lock()
	s.timers[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *memoryTimerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryTimerStore) Load(_ context.Context) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	return out, nil
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets a structured logger. If not set, no logs are
// emitted.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithSchedulerErrorHandler routes job and timer failures.
func WithSchedulerErrorHandler(h *ErrorHandler) SchedulerOption {
	return func(s *Scheduler) { s.errors = h }
}

// WithTimerStore replaces the in-memory timer store so one-shot timers
// survive restarts.
func WithTimerStore(ts TimerStore) SchedulerOption {
	return func(s *Scheduler) { s.store = ts }
}

// Scheduler runs the document's cron jobs and named one-shot timers. Fires
// are delivered as events: a cron job named "purge" emits "scheduler:purge"
// plus a generic "scheduler_tick"; a one-shot timer emits its declared
// event with its data merged into context. Firing is best-effort, at or
// after the instant with no backfill, and overlapping cron runs are
// permitted.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	emitter EventEmitter
	store   TimerStore
	timers  map[string]*time.Timer
	errors  *ErrorHandler
	logger  *slog.Logger
	started bool
}

// NewScheduler creates a Scheduler emitting into emitter.
func NewScheduler(emitter EventEmitter, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		emitter: emitter,
		store:   newMemoryTimerStore(),
		timers:  make(map[string]*time.Timer),
		logger:  nopLogger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddJob registers a cron job. The expression is the standard 5-field form;
// a declared timezone is applied per job.
func (s *Scheduler) AddJob(job CronJob) error {
	spec := job.Cron
	if job.Timezone != "" {
		spec = "CRON_TZ=" + job.Timezone + " " + spec
	}
	_, err := s.cron.AddFunc(spec, func() { s.fireJob(job.Name) })
	if err != nil {
		return &ValidationError{Field: "cron", Msg: "job " + job.Name + ": " + err.Error()}
	}
	return nil
}

func (s *Scheduler) fireJob(name string) {
	s.logger.Debug("cron job fired", "job", name)
	now := float64(NowMillis())
	s.emitter.Emit(context.Background(), "scheduler:"+name, map[string]any{
		"job":      name,
		"fired_at": now,
	})
	s.emitter.Emit(context.Background(), "scheduler_tick", map[string]any{
		"job":      name,
		"fired_at": now,
	})
}

// Start begins cron scheduling and restores persisted one-shot timers.
// Timers whose instant already passed fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	persisted, err := s.store.Load(ctx)
	if err != nil {
		s.report(err)
	}
	for _, t := range persisted {
		d := time.Until(t.FiresAt)
		if d < 0 {
			d = 0
		}
		s.arm(t, d)
	}
	s.cron.Start()
	return nil
}

// CreateTimer registers a named one-shot timer; an existing timer with the
// same id is cancelled and replaced.
func (s *Scheduler) CreateTimer(ctx context.Context, id string, d time.Duration, event string, data map[string]any) error {
	if id == "" || event == "" {
		return &ValidationError{Field: "timer", Msg: "timer requires id and event"}
	}
	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	t := Timer{ID: id, FiresAt: time.Now().Add(d), Event: event, Data: data}
	if err := s.store.Save(ctx, t); err != nil {
		s.report(err)
	}
	s.arm(t, d)
	return nil
}

func (s *Scheduler) arm(t Timer, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[t.ID] = time.AfterFunc(d, func() { s.fireTimer(t) })
}

func (s *Scheduler) fireTimer(t Timer) {
	s.mu.Lock()
	delete(s.timers, t.ID)
	s.mu.Unlock()
	if err := s.store.Delete(context.Background(), t.ID); err != nil {
		s.report(err)
	}

	env := make(map[string]any, len(t.Data)+1)
	for k, v := range t.Data {
		env[k] = v
	}
	env["timer_id"] = t.ID
	s.logger.Debug("timer fired", "timer", t.ID, "event", t.Event)
	s.emitter.Emit(context.Background(), t.Event, env)
}

// CancelTimer removes a pending timer. It reports whether one was pending.
func (s *Scheduler) CancelTimer(ctx context.Context, id string) bool {
	s.mu.Lock()
	t, ok := s.timers[id]
	if ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if ok {
		if err := s.store.Delete(ctx, id); err != nil {
			s.report(err)
		}
	}
	return ok
}

func (s *Scheduler) report(err error) {
	s.logger.Warn("scheduler error", "error", err)
	if s.errors != nil {
		s.errors.Handle(err, CategoryScheduler, SeverityError, nil)
	}
}

// Close stops cron scheduling and cancels every pending timer. Running job
// actions finish on their own.
func (s *Scheduler) Close() {
	s.cron.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.started = false
}
