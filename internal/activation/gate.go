package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/journal"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/protocol"
)

// CancelledMessage is the error text returned when the host cancels an
// in-flight message activation.
const CancelledMessage = "activation cancelled"

// Dispatcher routes decoded requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response
}

// UnitSource resolves background units by name.
type UnitSource interface {
	Lookup(name string) (background.Unit, bool)
}

// Recorder journals activations.
type Recorder interface {
	Begin(ctx context.Context, kind journal.Kind, name, identity string) (string, error)
	Complete(ctx context.Context, id string, status journal.Status, errMsg string) error
}

// Gate drives one activation from receipt to completion.
type Gate struct {
	dispatcher Dispatcher
	units      UnitSource
	recorder   Recorder
	pub        events.Publisher
	logger     *slog.Logger
}

// NewGate wires the gate. recorder and pub may be nil.
func NewGate(dispatcher Dispatcher, units UnitSource, recorder Recorder, pub events.Publisher) *Gate {
	return &Gate{
		dispatcher: dispatcher,
		units:      units,
		recorder:   recorder,
		pub:        events.OrDiscard(pub),
		logger:     log.WithComponent("activation"),
	}
}

// HandleMessage handles one inbound message under deferral d. An empty
// message is dropped with ErrEmptyMessage. A malformed message gets a
// failure reply. Otherwise the request is dispatched; if ctx is cancelled
// first the reply is a cancellation failure and d is released at once while
// the handler finishes on its own.
func (g *Gate) HandleMessage(ctx context.Context, msg protocol.Message, d Deferral) (protocol.Message, error) {
	guard := NewGuard(d)
	defer guard.Release()

	if len(msg) == 0 {
		g.logger.Warn("dropping empty message")
		return nil, protocol.ErrEmptyMessage
	}

	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		g.logger.Warn("malformed message", "error", err)
		return protocol.EncodeResponse(protocol.Fail(err.Error())), nil
	}

	id := g.begin(ctx, journal.KindMessage, req.Command, req.Package)
	logger := g.logger.With("activation_id", id, "command", req.Command, "identity", req.Package)

	done := make(chan *protocol.Response, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("dispatch panicked", "panic", rec, "stack", string(debug.Stack()))
				done <- protocol.Fail(fmt.Sprintf("dispatch panicked: %v", rec))
			}
		}()
		done <- g.dispatcher.Dispatch(ctx, req)
	}()

	var resp *protocol.Response
	status := journal.StatusSucceeded
	select {
	case resp = <-done:
		if !resp.Success {
			status = journal.StatusFailed
		}
	case <-ctx.Done():
		guard.Release()
		logger.Info("message activation cancelled; deferral released")
		resp = protocol.Fail(CancelledMessage)
		status = journal.StatusCancelled
	}

	g.complete(ctx, id, status, resp.Error)
	return protocol.EncodeResponse(resp), nil
}

// HandleBackground runs the named unit under deferral d.
func (g *Gate) HandleBackground(ctx context.Context, name string, d Deferral) error {
	return g.HandleTrigger(ctx, background.Activation{Unit: name}, d)
}

// HandleTrigger runs act.Unit under deferral d. The unit body runs on its own
// goroutine; cancellation returns immediately with ctx's error and releases d.
// A panicking unit yields an error.
func (g *Gate) HandleTrigger(ctx context.Context, act background.Activation, d Deferral) error {
	guard := NewGuard(d)
	defer guard.Release()

	unit, ok := g.units.Lookup(act.Unit)
	if !ok {
		g.logger.Warn("trigger for unknown unit", "unit", act.Unit)
		return fmt.Errorf("%w: %q", background.ErrUnknownUnit, act.Unit)
	}

	act.ID = g.begin(ctx, journal.KindBackground, unit.Name, "")
	act.Trigger = unit.Trigger
	if act.FiredAt.IsZero() {
		act.FiredAt = time.Now().UTC()
	}
	logger := g.logger.With("activation_id", act.ID, "unit", unit.Name)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("unit panicked", "panic", rec, "stack", string(debug.Stack()))
				done <- fmt.Errorf("unit %q panicked: %v", unit.Name, rec)
			}
		}()
		done <- unit.Run(ctx, act)
	}()

	var runErr error
	status := journal.StatusSucceeded
	select {
	case runErr = <-done:
		if runErr != nil {
			status = journal.StatusFailed
			logger.Warn("unit failed", "error", runErr)
		}
	case <-ctx.Done():
		guard.Release()
		logger.Info("background activation cancelled; deferral released")
		runErr = ctx.Err()
		status = journal.StatusCancelled
	}

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	g.complete(ctx, act.ID, status, msg)
	return runErr
}

func (g *Gate) begin(ctx context.Context, kind journal.Kind, name, identity string) string {
	var id string
	if g.recorder != nil {
		var err error
		id, err = g.recorder.Begin(context.WithoutCancel(ctx), kind, name, identity)
		if err != nil {
			g.logger.Error("failed to journal activation start", "name", name, "error", err)
		}
	}
	g.pub.Publish(events.ActivationStarted, map[string]string{
		"activation_id": id,
		"kind":          string(kind),
		"name":          name,
		"identity":      identity,
	})
	return id
}

func (g *Gate) complete(ctx context.Context, id string, status journal.Status, errMsg string) {
	if g.recorder != nil && id != "" {
		if err := g.recorder.Complete(context.WithoutCancel(ctx), id, status, errMsg); err != nil && !errors.Is(err, journal.ErrNotFound) {
			g.logger.Error("failed to journal activation outcome", "activation_id", id, "error", err)
		}
	}
	g.pub.Publish(events.ActivationCompleted, map[string]string{
		"activation_id": id,
		"status":        string(status),
		"error":         errMsg,
	})
}
