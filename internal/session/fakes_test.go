package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// -- Resource --

type fakeResource struct {
	id      string
	created time.Time
	open    atomic.Bool
	closes  atomic.Int32
	onClose func()
	// closeErr and closePanic simulate a misbehaving teardown.
	closeErr   error
	closePanic bool
}

func (r *fakeResource) ID() string           { return r.id }
func (r *fakeResource) CreatedAt() time.Time { return r.created }
func (r *fakeResource) IsOpen() bool         { return r.open.Load() }

func (r *fakeResource) Close(context.Context) error {
	if r.closes.Add(1) == 1 && r.onClose != nil {
		r.onClose()
	}
	r.open.Store(false)
	if r.closePanic {
		panic("close exploded")
	}
	return r.closeErr
}

// -- Launcher --

type fakeLauncher struct {
	mu        sync.Mutex
	launched  []*fakeResource
	alive     atomic.Int32
	maxAlive  atomic.Int32
	failWith  error
	delay     time.Duration
	closeErr  error
	panicking bool
}

func (l *fakeLauncher) Launch(ctx context.Context) (Resource, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	res := &fakeResource{
		id:         fmt.Sprintf("res-%d", len(l.launched)+1),
		created:    time.Now(),
		closeErr:   l.closeErr,
		closePanic: l.panicking,
	}
	res.open.Store(true)
	res.onClose = func() { l.alive.Add(-1) }

	n := l.alive.Add(1)
	for {
		cur := l.maxAlive.Load()
		if n <= cur || l.maxAlive.CompareAndSwap(cur, n) {
			break
		}
	}
	l.launched = append(l.launched, res)
	return res, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) last() *fakeResource {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}

// -- Authenticator / Refresher --

type fakeAuth struct {
	calls atomic.Int32
	// fn decides the outcome of the n-th call (1-based).
	fn func(n int) (string, error)
}

func (a *fakeAuth) Authenticate(_ context.Context, _ Resource, creds Credentials) (string, error) {
	n := int(a.calls.Add(1))
	if a.fn != nil {
		return a.fn(n)
	}
	return fmt.Sprintf("token-%s-%d", creds.Username, n), nil
}

type fakeRefresher struct {
	calls atomic.Int32
	token string
	err   error
}

func (r *fakeRefresher) Refresh(context.Context, Resource) (string, error) {
	r.calls.Add(1)
	return r.token, r.err
}

// -- HealthChecker --

type fakeChecker struct {
	calls   atomic.Int32
	healthy atomic.Bool
}

func newHealthyChecker() *fakeChecker {
	c := &fakeChecker{}
	c.healthy.Store(true)
	return c
}

func (c *fakeChecker) Probe(ctx context.Context, _ Resource) bool {
	c.calls.Add(1)
	if ctx.Err() != nil {
		return false
	}
	return c.healthy.Load()
}

// -- Observer --

type transition struct{ from, to State }

type recordingObserver struct {
	mu          sync.Mutex
	transitions []transition
	starts      []error
	recoveries  []string
	operations  []error
}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{from, to})
}

func (o *recordingObserver) StartAttempt(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, err)
}

func (o *recordingObserver) Recovery(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recoveries = append(o.recoveries, outcome)
}

func (o *recordingObserver) OperationAttempt(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.operations = append(o.operations, err)
}

func (o *recordingObserver) recoveryOutcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.recoveries...)
}

func (o *recordingObserver) path() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var states []State
	for _, t := range o.transitions {
		states = append(states, t.to)
	}
	return states
}

// -- Sleeper and clock --

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")
