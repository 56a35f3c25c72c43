package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Session is the part of Manager the executor needs.
type Session interface {
	IsRunning() bool
	Start(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	Recover(ctx context.Context) error
	Restart(ctx context.Context) error
	GetHandle(ctx context.Context) (string, error)
}

var _ Session = (*Manager)(nil)

// Policy bounds the retry loop. MaxRetries counts retries, so an operation
// runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single backoff wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy is three retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Operation is a remote call made with the current credential.
type Operation[T any] func(ctx context.Context, token string) (T, error)

// Executor runs operations against the managed session, recovering it and
// backing off between attempts. It is the only component that retries.
type Executor struct {
	session  Session
	policy   Policy
	sleep    Sleeper
	observer Observer
	logger   *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleeper replaces the backoff sleeper, mainly for tests.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleep = s }
}

// WithObserver reports every attempt to o.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

func NewExecutor(s Session, policy Policy, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	e := &Executor{
		session:  s,
		policy:   policy,
		sleep:    SleepContext,
		observer: nopObserver{},
		logger:   logger.Named("retry_executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's default policy.
func (e *Executor) Policy() Policy { return e.policy }

// Run executes op under the executor's default policy.
func Run[T any](ctx context.Context, e *Executor, name string, op Operation[T]) (T, error) {
	return RunWith(ctx, e, e.policy, name, op)
}

// RunWith executes op under policy.
//
// Each attempt makes sure the session is running, recovers it when the
// health check fails and then calls op with a fresh credential. When op
// fails the session is recovered and the loop sleeps BaseDelay*2^attempt
// before trying again. An authentication failure from op means the server
// dropped the credential, so the session is restarted even if the local
// health check still passes. Validation errors, authentication failures from
// starting the session, failed recoveries and caller cancellation end the
// loop at once. The final error keeps the kind of the last failure and
// records how many attempts were made.
func RunWith[T any](ctx context.Context, e *Executor, policy Policy, name string, op Operation[T]) (T, error) {
	var zero T
	log := e.logger.With(zap.String("operation", name))

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempts++

		result, opErr, setupErr := runAttempt(ctx, e.session, op)
		if opErr == nil && setupErr == nil {
			e.observer.OperationAttempt(name, nil)
			if attempt > 0 {
				log.Info("Operation succeeded after retry.", zap.Int("attempt", attempt+1))
			}
			return result, nil
		}

		err := opErr
		if setupErr != nil {
			err = setupErr
		}
		e.observer.OperationAttempt(name, err)
		lastErr = err

		if terminal(err, setupErr != nil) || ctx.Err() != nil {
			log.Warn("Operation failed without retry.", zap.Int("attempt", attempt+1), zap.Error(err))
			break
		}
		if attempt == policy.MaxRetries {
			break
		}

		log.Warn("Operation attempt failed.",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxRetries+1),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))

		if opErr != nil {
			if recErr := recoverAfter(ctx, e.session, opErr); recErr != nil {
				lastErr = recErr
				log.Error("Recovery after failed attempt did not succeed.", zap.Error(recErr))
				break
			}
		}

		delay := cappedBackoff(policy.BaseDelay, policy.MaxDelay, attempt)
		if serr := e.sleep(ctx, delay); serr != nil {
			break
		}
	}

	return zero, finalError(name, attempts, lastErr)
}

// runAttempt runs one try. Errors raised before op ran are reported as
// setupErr.
func runAttempt[T any](ctx context.Context, s Session, op Operation[T]) (result T, opErr, setupErr error) {
	if !s.IsRunning() {
		if err := s.Start(ctx); err != nil {
			return result, nil, err
		}
	}
	if !s.HealthCheck(ctx) {
		if err := s.Recover(ctx); err != nil {
			return result, nil, err
		}
	}
	token, err := s.GetHandle(ctx)
	if err != nil {
		return result, nil, err
	}
	result, opErr = op(ctx, token)
	return result, opErr, nil
}

// recoverAfter repairs the session after op failed with opErr.
func recoverAfter(ctx context.Context, s Session, opErr error) error {
	if KindOf(opErr) != KindAuthentication {
		return s.Recover(ctx)
	}
	if err := s.Restart(ctx); err != nil {
		return RecoveryExhaustedError("restart", err)
	}
	return nil
}

// terminal reports whether err must surface without another attempt.
func terminal(err error, duringSetup bool) bool {
	switch KindOf(err) {
	case KindValidation, KindRecoveryExhausted:
		return true
	case KindAuthentication:
		// Start already retried the login.
		return duringSetup
	}
	return false
}

func finalError(op string, attempts int, last error) error {
	var se *Error
	if errors.As(last, &se) && se.Kind == KindValidation {
		return last
	}
	kind := KindOf(last)
	if kind == KindUnknown {
		kind = KindConnection
	}
	return &Error{Kind: kind, Op: op, Msg: "operation failed", Attempts: attempts, Err: last}
}
