package review

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/events"
)

// Client is the slice of the courier admin API the review screen needs.
type Client interface {
	Pending(ctx context.Context) ([]auth.PendingRequest, error)
	Approve(ctx context.Context, id string) (auth.PendingRequest, error)
	Deny(ctx context.Context, id string) (auth.PendingRequest, error)
	Stream(ctx context.Context, lastID int64, fn func(events.Event)) error
}

// requestTimeout bounds each admin call made from the UI.
const requestTimeout = 5 * time.Second

// pollInterval refreshes the pending list even when the stream is down.
const pollInterval = 10 * time.Second

type pendingMsg struct {
	requests []auth.PendingRequest
	err      error
}

type decidedMsg struct {
	verb string
	req  auth.PendingRequest
	err  error
}

type eventMsg events.Event

type streamClosedMsg struct{ err error }

type reconnectMsg struct{}

type pollMsg time.Time

func fetchPending(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		reqs, err := c.Pending(ctx)
		return pendingMsg{requests: reqs, err: err}
	}
}

func decide(c Client, verb, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var (
			req auth.PendingRequest
			err error
		)
		if verb == "approved" {
			req, err = c.Approve(ctx, id)
		} else {
			req, err = c.Deny(ctx, id)
		}
		if req.ID == "" {
			req.ID = id
		}
		return decidedMsg{verb: verb, req: req, err: err}
	}
}

// subscribe runs the event stream until it drops, feeding ch.
func subscribe(ctx context.Context, c Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		err := c.Stream(ctx, lastID, func(ev events.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		return streamClosedMsg{err: err}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func schedulePoll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func isGrantEvent(typ string) bool {
	return strings.HasPrefix(typ, "grants.")
}
