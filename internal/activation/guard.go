// Package activation is the entry point for host activations: inbound
// messages and background triggers. Each activation holds a completion
// deferral that is released exactly once on every exit path.
package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShuttingDown is returned by Lifetime.Acquire after Close.
var ErrShuttingDown = errors.New("lifetime is shutting down")

// Deferral is a host completion token. Complete tells the host the process
// may be suspended as far as this activation is concerned.
type Deferral interface {
	Complete()
}

// DeferralFunc adapts a function to Deferral.
type DeferralFunc func()

func (f DeferralFunc) Complete() { f() }

// Guard releases its deferral at most once.
type Guard struct {
	once     sync.Once
	d        Deferral
	released atomic.Bool
}

func NewGuard(d Deferral) *Guard {
	return &Guard{d: d}
}

// Release completes the deferral on the first call and reports whether this
// call did so.
func (g *Guard) Release() bool {
	first := false
	g.once.Do(func() {
		first = true
		g.released.Store(true)
		if g.d != nil {
			g.d.Complete()
		}
	})
	return first
}

func (g *Guard) Released() bool { return g.released.Load() }

// Lifetime issues deferrals and lets shutdown wait for the outstanding ones.
type Lifetime struct {
	mu          sync.Mutex
	outstanding int
	closed      bool
	idle        chan struct{} // closed while outstanding == 0
}

func NewLifetime() *Lifetime {
	idle := make(chan struct{})
	close(idle)
	return &Lifetime{idle: idle}
}

// Acquire issues a deferral. It fails once Close has been called.
func (l *Lifetime) Acquire() (Deferral, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrShuttingDown
	}
	if l.outstanding == 0 {
		l.idle = make(chan struct{})
	}
	l.outstanding++

	var once sync.Once
	return DeferralFunc(func() { once.Do(l.release) }), nil
}

func (l *Lifetime) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outstanding--
	if l.outstanding == 0 {
		close(l.idle)
	}
}

// Outstanding reports how many deferrals are not yet complete.
func (l *Lifetime) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

// Close stops issuing deferrals.
func (l *Lifetime) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Wait blocks until every issued deferral is complete or ctx is done.
func (l *Lifetime) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
