package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/events"
)

// interruptedReason is recorded on activations a previous process left running.
const interruptedReason = "interrupted: courier restarted before the activation completed"

// pruneEvery bounds how often the activation log is pruned.
const pruneEvery = time.Hour

// Options tunes the tick loop.
type Options struct {
	TickInterval time.Duration
	Jitter       time.Duration
	Retention    time.Duration
}

// Deps are the collaborators the scheduler drives. Journal, Units and Events
// may be nil.
type Deps struct {
	Registrations RegistrationSource
	Activator     Activator
	Tokens        TokenSource
	Journal       Journal
	Units         UnitObserver
	Events        events.Publisher
}

// Scheduler fires host registrations: interval triggers from a tick loop and
// event triggers on demand.
type Scheduler struct {
	opts   Options
	deps   Deps
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
	jitter func(base, jitter time.Duration) time.Duration

	mu        sync.Mutex
	nextDue   map[string]time.Time // registration id -> jittered due time
	lastPrune time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	loopWg   sync.WaitGroup
	runWg    sync.WaitGroup
}

// New creates a new Scheduler instance.
func New(opts Options, deps Deps, logger *slog.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	return &Scheduler{
		opts:    opts,
		deps:    deps,
		events:  events.OrDiscard(deps.Events),
		logger:  logger.With("component", "scheduler"),
		now:     func() time.Time { return time.Now().UTC() },
		jitter:  calculateJitteredInterval,
		nextDue: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Start recovers interrupted activations and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "tick_interval", s.opts.TickInterval, "jitter", s.opts.Jitter)

	if err := s.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("scheduler recovery failed: %w", err)
	}

	s.loopWg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for activations it started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.loopWg.Wait()
	s.runWg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.loopWg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Debug("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick fires every due interval registration and prunes the journal.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.events.Publish(events.SchedulerTick, map[string]any{"at": now})

	regs, err := s.deps.Registrations.Registrations(ctx)
	if err != nil {
		s.logger.Error("Failed to list registrations", "error", err)
		return
	}

	live := make(map[string]struct{}, len(regs))
	for _, reg := range regs {
		live[reg.ID] = struct{}{}

		tr, err := background.ParseTrigger(reg.Trigger)
		if err != nil {
			s.logger.Error("Invalid trigger on registration", "unit", reg.Name, "registration_id", reg.ID, "trigger", reg.Trigger, "error", err)
			continue
		}
		if tr.Kind != background.TriggerInterval {
			continue
		}
		if !s.isDue(reg, tr, now) {
			continue
		}
		s.fire(ctx, reg, tr, now)
	}
	s.forgetMissing(live)
	s.maybePrune(ctx, now)
}

// isDue reports whether an interval registration should fire. A registration
// that never fired is due at once.
func (s *Scheduler) isDue(reg background.Registration, tr background.Trigger, now time.Time) bool {
	if reg.LastFiredAt == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	due, ok := s.nextDue[reg.ID]
	if !ok {
		due = reg.LastFiredAt.Add(s.jitter(tr.Interval, s.opts.Jitter))
		s.nextDue[reg.ID] = due
	}
	return !now.Before(due)
}

// FireEvent fires every registration whose trigger is the named event and
// returns how many fired.
func (s *Scheduler) FireEvent(ctx context.Context, event string) (int, error) {
	regs, err := s.deps.Registrations.Registrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list registrations: %w", err)
	}

	now := s.now()
	fired := 0
	for _, reg := range regs {
		tr, err := background.ParseTrigger(reg.Trigger)
		if err != nil || tr.Kind != background.TriggerEvent {
			continue
		}
		if !strings.EqualFold(tr.Event, event) {
			continue
		}
		if s.fire(ctx, reg, tr, now) {
			fired++
		}
	}
	s.logger.Info("Host event delivered", "event", event, "fired", fired)
	return fired, nil
}

// fire acquires a deferral synchronously and hands the activation to the
// activator on its own goroutine.
func (s *Scheduler) fire(ctx context.Context, reg background.Registration, tr background.Trigger, now time.Time) bool {
	logger := s.logger.With("unit", reg.Name, "registration_id", reg.ID)

	d, err := s.deps.Tokens.Acquire()
	if err != nil {
		logger.Warn("Skipping fire; no completion token", "error", err)
		return false
	}

	if err := s.deps.Registrations.MarkFired(ctx, reg.ID, now); err != nil {
		logger.Error("Failed to record fire time", "error", err)
	}
	s.mu.Lock()
	delete(s.nextDue, reg.ID)
	s.mu.Unlock()

	if tr.OneShot {
		if err := s.deps.Registrations.Unregister(ctx, reg.ID); err != nil {
			logger.Error("Failed to remove one-shot registration", "error", err)
		} else if s.deps.Units != nil {
			s.deps.Units.MarkUnregistered(reg.Name)
		}
	}

	s.events.Publish(events.SchedulerFired, map[string]any{
		"unit":            reg.Name,
		"registration_id": reg.ID,
		"trigger":         reg.Trigger,
	})

	act := background.Activation{Unit: reg.Name, RegistrationID: reg.ID, FiredAt: now}
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		if err := s.deps.Activator.HandleTrigger(ctx, act, d); err != nil {
			logger.Warn("Background activation failed", "error", err)
		}
	}()
	return true
}

func (s *Scheduler) forgetMissing(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.nextDue {
		if _, ok := live[id]; !ok {
			delete(s.nextDue, id)
		}
	}
}

func (s *Scheduler) maybePrune(ctx context.Context, now time.Time) {
	if s.deps.Journal == nil || s.opts.Retention <= 0 {
		return
	}
	s.mu.Lock()
	if now.Sub(s.lastPrune) < pruneEvery {
		s.mu.Unlock()
		return
	}
	s.lastPrune = now
	s.mu.Unlock()

	n, err := s.deps.Journal.Prune(ctx, s.opts.Retention)
	if err != nil {
		s.logger.Error("Failed to prune activation log", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Pruned activation log", "removed", n, "retention", s.opts.Retention)
	}
}

// recoverInterrupted closes out activations a previous process left running.
func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	if s.deps.Journal == nil {
		return nil
	}
	n, err := s.deps.Journal.FailRunning(ctx, interruptedReason)
	if err != nil {
		return fmt.Errorf("failed to close interrupted activations: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Closed interrupted activations", "count", n)
	}
	return nil
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
