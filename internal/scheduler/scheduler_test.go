package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/activation"
	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func registration(id, name, trigger string, lastFired *time.Time) background.Registration {
	tr := background.MustParseTrigger(trigger)
	return background.Registration{ID: id, Name: name, Trigger: tr.String(), Fingerprint: tr.Fingerprint(), LastFiredAt: lastFired}
}

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

// completeDeferral stands in for the gate, which owns the deferral.
func completeDeferral(_ context.Context, _ background.Activation, d activation.Deferral) error {
	d.Complete()
	return nil
}

type fakeJournal struct {
	pruned    int
	failed    int64
	failErr   error
	retention time.Duration
}

func (f *fakeJournal) Prune(_ context.Context, retention time.Duration) (int64, error) {
	f.pruned++
	f.retention = retention
	return 2, nil
}

func (f *fakeJournal) FailRunning(context.Context, string) (int64, error) {
	return f.failed, f.failErr
}

type recordingUnits struct{ names []string }

func (r *recordingUnits) MarkUnregistered(name string) { r.names = append(r.names, name) }

func newTestScheduler(t *testing.T, deps Deps, opts Options) (*Scheduler, *TestLogBuffer) {
	t.Helper()
	if deps.Tokens == nil {
		deps.Tokens = activation.NewLifetime()
	}
	logger, buf := NewTestSlogger()
	s := New(opts, deps, logger)
	s.now = func() time.Time { return testNow }
	s.jitter = func(base, _ time.Duration) time.Duration { return base }
	return s, buf
}

func TestCalculateJitteredInterval(t *testing.T) {
	tests := []struct {
		name         string
		baseInterval time.Duration
		jitter       time.Duration
	}{
		{name: "No Jitter", baseInterval: 1 * time.Minute, jitter: 0},
		{name: "Positive Jitter", baseInterval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "Large Jitter", baseInterval: 1 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				jittered := calculateJitteredInterval(tt.baseInterval, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.baseInterval, jittered)
				} else {
					assert.GreaterOrEqual(t, jittered, tt.baseInterval)
					assert.LessOrEqual(t, jittered, tt.baseInterval+tt.jitter)
				}
			}
		})
	}
}

func TestTickFiresDueIntervalRegistrations(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	act := mocks.NewMockActivator(ctrl)
	ctx := context.Background()

	lifetime := activation.NewLifetime()
	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: act, Tokens: lifetime}, Options{})

	regs.EXPECT().Registrations(ctx).Return([]background.Registration{
		registration("r-new", "fresh", "hourly", nil),
		registration("r-due", "due", "15m", ago(20*time.Minute)),
		registration("r-wait", "waiting", "hourly", ago(10*time.Minute)),
		registration("r-evt", "on-login", "event:login", nil),
	}, nil)

	regs.EXPECT().MarkFired(ctx, "r-new", testNow).Return(nil)
	regs.EXPECT().MarkFired(ctx, "r-due", testNow).Return(nil)
	act.EXPECT().HandleTrigger(ctx, background.Activation{Unit: "fresh", RegistrationID: "r-new", FiredAt: testNow}, gomock.Any()).DoAndReturn(completeDeferral)
	act.EXPECT().HandleTrigger(ctx, background.Activation{Unit: "due", RegistrationID: "r-due", FiredAt: testNow}, gomock.Any()).DoAndReturn(completeDeferral)

	s.tick(ctx)
	s.runWg.Wait()

	assert.Zero(t, lifetime.Outstanding(), "every deferral handed out is completed")
}

func TestTickJitterIsStablePerCycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	act := mocks.NewMockActivator(ctrl)
	ctx := context.Background()

	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: act}, Options{Jitter: time.Minute})
	calls := 0
	s.jitter = func(base, _ time.Duration) time.Duration {
		calls++
		return base + 5*time.Minute
	}

	// Fired 62 minutes ago: due only after the 5 minute jitter.
	reg := registration("r1", "sync", "hourly", ago(62*time.Minute))
	regs.EXPECT().Registrations(ctx).Return([]background.Registration{reg}, nil).Times(2)

	s.tick(ctx)
	s.tick(ctx)
	assert.Equal(t, 1, calls, "jitter is drawn once per fire cycle")
}

func TestTickOneShotUnregisters(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	act := mocks.NewMockActivator(ctrl)
	ctx := context.Background()
	units := &recordingUnits{}

	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: act, Units: units}, Options{})

	regs.EXPECT().Registrations(ctx).Return([]background.Registration{registration("r1", "bootstrap", "15m!once", nil)}, nil)
	regs.EXPECT().MarkFired(ctx, "r1", testNow).Return(nil)
	regs.EXPECT().Unregister(ctx, "r1").Return(nil)
	act.EXPECT().HandleTrigger(ctx, gomock.Any(), gomock.Any()).DoAndReturn(completeDeferral)

	s.tick(ctx)
	s.runWg.Wait()
	assert.Equal(t, []string{"bootstrap"}, units.names)
}

func TestTickSkipsWhenShuttingDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	act := mocks.NewMockActivator(ctrl)
	ctx := context.Background()

	lifetime := activation.NewLifetime()
	lifetime.Close()
	s, buf := newTestScheduler(t, Deps{Registrations: regs, Activator: act, Tokens: lifetime}, Options{})

	regs.EXPECT().Registrations(ctx).Return([]background.Registration{registration("r1", "sync", "hourly", nil)}, nil)
	// No MarkFired or HandleTrigger expected.

	s.tick(ctx)
	assert.Contains(t, buf.String(), "no completion token")
}

func TestTickListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	ctx := context.Background()

	s, buf := newTestScheduler(t, Deps{Registrations: regs, Activator: mocks.NewMockActivator(ctrl)}, Options{})
	regs.EXPECT().Registrations(ctx).Return(nil, errors.New("db locked"))

	s.tick(ctx)
	assert.Contains(t, buf.String(), "Failed to list registrations")
}

func TestTickInvalidTriggerIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	ctx := context.Background()

	s, buf := newTestScheduler(t, Deps{Registrations: regs, Activator: mocks.NewMockActivator(ctrl)}, Options{})
	regs.EXPECT().Registrations(ctx).Return([]background.Registration{{ID: "bad", Name: "x", Trigger: "whenever"}}, nil)

	s.tick(ctx)
	assert.Contains(t, buf.String(), "Invalid trigger on registration")
}

func TestFireEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	act := mocks.NewMockActivator(ctrl)
	ctx := context.Background()
	hub := events.NewHub(10)

	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: act, Events: hub}, Options{})

	regs.EXPECT().Registrations(ctx).Return([]background.Registration{
		registration("r1", "on-login", "event:Login", nil),
		registration("r2", "also-login", "event:login", nil),
		registration("r3", "on-network", "event:network", nil),
		registration("r4", "hourly", "hourly", nil),
	}, nil)
	regs.EXPECT().MarkFired(ctx, "r1", testNow).Return(nil)
	regs.EXPECT().MarkFired(ctx, "r2", testNow).Return(nil)
	act.EXPECT().HandleTrigger(ctx, gomock.Any(), gomock.Any()).DoAndReturn(completeDeferral).Times(2)

	n, err := s.FireEvent(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	s.runWg.Wait()

	fired := 0
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.SchedulerFired {
			fired++
		}
	}
	assert.Equal(t, 2, fired)
}

func TestRecoverInterrupted(t *testing.T) {
	ctrl := gomock.NewController(t)
	j := &fakeJournal{failed: 3}
	s, buf := newTestScheduler(t, Deps{Registrations: mocks.NewMockRegistrationSource(ctrl), Journal: j}, Options{})

	require.NoError(t, s.recoverInterrupted(context.Background()))
	assert.Contains(t, buf.String(), "Closed interrupted activations")

	j.failErr = errors.New("db error")
	err := s.recoverInterrupted(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestPruneRunsAtMostHourly(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	j := &fakeJournal{}
	ctx := context.Background()

	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: mocks.NewMockActivator(ctrl), Journal: j}, Options{Retention: 24 * time.Hour})
	regs.EXPECT().Registrations(ctx).Return(nil, nil).Times(3)

	s.tick(ctx)
	s.tick(ctx)
	assert.Equal(t, 1, j.pruned)
	assert.Equal(t, 24*time.Hour, j.retention)

	s.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	s.tick(ctx)
	assert.Equal(t, 2, j.pruned)
}

func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	regs := mocks.NewMockRegistrationSource(ctrl)
	regs.EXPECT().Registrations(gomock.Any()).Return(nil, nil).MinTimes(1)

	s, _ := newTestScheduler(t, Deps{Registrations: regs, Activator: mocks.NewMockActivator(ctrl)}, Options{TickInterval: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()
}
