package session

import (
	"context"
	"time"
)

// Credentials is the identity used to log in. It never leaves the manager.
type Credentials struct {
	Username string
	Password string
}

// Resource is one live set of automation handles able to hold an
// authenticated session. The manager owns it exclusively.
type Resource interface {
	ID() string
	CreatedAt() time.Time
	IsOpen() bool
	// Close releases every owned handle, continuing past individual failures.
	Close(ctx context.Context) error
}

// Launcher builds a fresh, unauthenticated Resource.
type Launcher interface {
	Launch(ctx context.Context) (Resource, error)
}

// Authenticator drives a Resource through login and returns the session
// credential. It is called at most once per Resource.
type Authenticator interface {
	Authenticate(ctx context.Context, res Resource, creds Credentials) (string, error)
}

// Refresher re-extracts a credential from a live Resource without
// relaunching it. Optional.
type Refresher interface {
	Refresh(ctx context.Context, res Resource) (string, error)
}

// HealthChecker performs a cheap, read-only liveness probe. Any failure,
// including a panic-free error or timeout, is reported as false.
type HealthChecker interface {
	Probe(ctx context.Context, res Resource) bool
}

// Recovery outcomes reported to an Observer.
const (
	RecoveryNoop      = "noop"
	RecoveryRefreshed = "refreshed"
	RecoveryRestarted = "restarted"
	RecoveryFailed    = "failed"
)

// Observer receives lifecycle events, typically to feed metrics.
type Observer interface {
	StateChanged(from, to State)
	StartAttempt(err error)
	Recovery(outcome string)
	OperationAttempt(op string, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) StartAttempt(error) {}
func (nopObserver) Recovery(string) {}
func (nopObserver) OperationAttempt(string, error) {}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
