package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeTimeout    = 5 * time.Second
	defaultLoginTimeout    = 45 * time.Second
	defaultTeardownTimeout = 10 * time.Second
)

// Options tunes the manager.
type Options struct {
	Credentials Credentials
	// MaxRetries is the number of start attempts before giving up.
	MaxRetries   int
	RetryDelay   time.Duration
	ProbeTimeout time.Duration
	// LoginTimeout bounds one launch plus authentication.
	LoginTimeout time.Duration
}

// Dependencies are the collaborators the manager drives. Launcher,
// Authenticator and HealthChecker are required.
type Dependencies struct {
	Launcher      Launcher
	Authenticator Authenticator
	HealthChecker HealthChecker
	Refresher     Refresher
	Observer      Observer
	Sleeper       Sleeper
	Clock         func() time.Time
}

// Status is a read-only snapshot of the manager.
type Status struct {
	State         State     `json:"state"`
	Running       bool      `json:"running"`
	Authenticated bool      `json:"authenticated"`
	StartupTime   time.Time `json:"startup_time,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	ResourceID    string    `json:"resource_id,omitempty"`
}

// Manager owns at most one Resource and the credential extracted from it.
// Every state-affecting call holds mu for its whole duration, remote I/O
// included, so starts and restarts never race.
type Manager struct {
	mu       sync.Mutex
	state    State
	resource Resource
	token    string
	started  time.Time

	// view mirrors state for Status and State so that readers are not
	// blocked behind a login in progress.
	viewMu sync.RWMutex
	view   Status

	opts      Options
	launcher  Launcher
	auth      Authenticator
	checker   HealthChecker
	refresher Refresher
	observer  Observer
	sleep     Sleeper
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager validates its inputs and returns a manager in Uninitialized.
func NewManager(opts Options, deps Dependencies, logger *zap.Logger) (*Manager, error) {
	if deps.Launcher == nil || deps.Authenticator == nil || deps.HealthChecker == nil {
		return nil, errors.New("session manager requires a launcher, an authenticator and a health checker")
	}
	if opts.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", opts.MaxRetries)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		state:     Uninitialized,
		opts:      opts,
		launcher:  deps.Launcher,
		auth:      deps.Authenticator,
		checker:   deps.HealthChecker,
		refresher: deps.Refresher,
		observer:  deps.Observer,
		sleep:     deps.Sleeper,
		now:       deps.Clock,
		logger:    logger.Named("session_manager"),
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.sleep == nil {
		m.sleep = SleepContext
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.publish()
	return m, nil
}

// Start brings the session to Ready. It is a no-op when already Ready.
// After MaxRetries failed attempts it returns the last typed error and
// leaves the manager Uninitialized.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

// Stop releases the current resource and returns to Uninitialized.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
}

// GetHandle returns the live credential, starting the session first if it
// is not Ready. It is the only way to obtain a credential.
func (m *Manager) GetHandle(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.runningLocked() {
		if err := m.startLocked(ctx); err != nil {
			return "", err
		}
	}
	return m.token, nil
}

// IsRunning reports whether a resource exists and the state is Ready.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// HealthCheck probes the live resource. It returns false without probing
// when the session is not running and never changes state.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCheckLocked(ctx)
}

// Recover is a no-op when the session is healthy. Otherwise it marks the
// session Degraded (or Failed when the resource is gone), tries a refresh
// in place and falls back to a full restart.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthCheckLocked(ctx) {
		m.observer.Recovery(RecoveryNoop)
		return nil
	}

	if m.resource != nil {
		if m.resource.IsOpen() {
			m.setState(Degraded)
		} else {
			m.setState(Failed)
		}
	}

	if m.state == Degraded && m.refresher != nil {
		if m.refreshLocked(ctx) {
			m.observer.Recovery(RecoveryRefreshed)
			return nil
		}
	}

	if err := m.restartLocked(ctx); err != nil {
		m.observer.Recovery(RecoveryFailed)
		return RecoveryExhaustedError("recover", err)
	}
	m.observer.Recovery(RecoveryRestarted)
	return nil
}

// Restart replaces the resource wholesale: stop followed by start.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartLocked(ctx)
}

// State returns the current lifecycle state without waiting on mu.
func (m *Manager) State() State {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view.State
}

// Status returns a snapshot with uptime computed against the manager clock.
func (m *Manager) Status() Status {
	m.viewMu.RLock()
	st := m.view
	m.viewMu.RUnlock()
	if st.Running && !st.StartupTime.IsZero() {
		st.UptimeSeconds = m.now().Sub(st.StartupTime).Seconds()
	}
	return st
}

func (m *Manager) runningLocked() bool {
	return m.resource != nil && m.state == Ready
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.runningLocked() && m.token != "" {
		return nil
	}

	var lastErr *Error
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = ConnectionError("start", "cancelled before attempt", err)
			break
		}

		m.teardownLocked(ctx)
		m.setState(Starting)
		m.logger.Info("Starting session.", zap.Int("attempt", attempt), zap.Int("max_attempts", m.opts.MaxRetries))

		token, err := m.attemptLocked(ctx)
		m.observer.StartAttempt(err)
		if err == nil {
			m.token = token
			m.started = m.now()
			m.setState(Ready)
			m.logger.Info("Session ready.",
				zap.String("resource_id", m.resource.ID()),
				zap.String("credential", fingerprint(token)))
			return nil
		}

		lastErr = err
		m.teardownLocked(ctx)
		m.setState(Uninitialized)
		m.logger.Warn("Session start attempt failed.",
			zap.Int("attempt", attempt),
			zap.String("kind", string(err.Kind)),
			zap.Error(err))

		if attempt < m.opts.MaxRetries {
			if serr := m.sleep(ctx, m.opts.RetryDelay); serr != nil {
				lastErr = ConnectionError("start", "cancelled while waiting to retry", serr)
				break
			}
		}
	}

	m.setState(Uninitialized)
	m.logger.Error("Session start exhausted.", zap.Int("max_attempts", m.opts.MaxRetries), zap.Error(lastErr))
	return lastErr
}

// attemptLocked launches and authenticates one resource. The resource is
// recorded before authentication so a failure can tear it down.
func (m *Manager) attemptLocked(ctx context.Context) (string, *Error) {
	loginCtx, cancel := context.WithTimeout(ctx, m.opts.LoginTimeout)
	defer cancel()

	res, err := m.launcher.Launch(loginCtx)
	if err != nil {
		return "", classify("launch", err)
	}
	m.resource = res

	token, err := m.auth.Authenticate(loginCtx, res, m.opts.Credentials)
	if err != nil {
		return "", classify("authenticate", err)
	}
	if token == "" {
		return "", AuthenticationError("authenticate", "no session credential after login", nil)
	}
	return token, nil
}

func (m *Manager) stopLocked(ctx context.Context) {
	m.teardownLocked(ctx)
	m.setState(Uninitialized)
}

func (m *Manager) restartLocked(ctx context.Context) error {
	m.logger.Info("Restarting session.", zap.Stringer("from", m.state))
	m.teardownLocked(ctx)
	return m.startLocked(ctx)
}

func (m *Manager) healthCheckLocked(ctx context.Context) bool {
	if !m.runningLocked() {
		return false
	}
	ok := m.probeLocked(ctx)
	m.logger.Debug("Health check finished.", zap.Bool("healthy", ok), zap.String("resource_id", m.resource.ID()))
	return ok
}

func (m *Manager) probeLocked(ctx context.Context) bool {
	if m.resource == nil || !m.resource.IsOpen() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	return m.checker.Probe(probeCtx, m.resource)
}

// refreshLocked tries to restore a Degraded session in place.
func (m *Manager) refreshLocked(ctx context.Context) bool {
	refreshCtx, cancel := context.WithTimeout(ctx, m.opts.LoginTimeout)
	defer cancel()

	token, err := m.refresher.Refresh(refreshCtx, m.resource)
	if err != nil || token == "" {
		m.logger.Warn("In-place refresh failed, falling back to restart.", zap.Error(err))
		return false
	}
	if !m.probeLocked(ctx) {
		m.logger.Warn("Session still unhealthy after refresh, falling back to restart.")
		return false
	}
	m.token = token
	m.setState(Ready)
	m.logger.Info("Session refreshed in place.", zap.String("credential", fingerprint(token)))
	return true
}

// teardownLocked releases the resource and forgets the credential. It never
// fails: Close errors and panics are logged. Cleanup runs on a context that
// survives cancellation of ctx.
func (m *Manager) teardownLocked(ctx context.Context) {
	res := m.resource
	m.resource = nil
	m.token = ""
	m.started = time.Time{}
	if res == nil {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTeardownTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic while releasing session resource.", zap.String("resource_id", res.ID()), zap.Any("panic", r))
		}
	}()
	if err := res.Close(closeCtx); err != nil {
		m.logger.Warn("Session resource released with errors.", zap.String("resource_id", res.ID()), zap.Error(err))
		return
	}
	m.logger.Debug("Session resource released.", zap.String("resource_id", res.ID()))
}

func (m *Manager) setState(next State) {
	prev := m.state
	if prev != next {
		if !prev.CanTransition(next) {
			m.logger.Error("Unexpected session state transition.", zap.Stringer("from", prev), zap.Stringer("to", next))
		}
		m.state = next
		m.observer.StateChanged(prev, next)
	}
	m.publish()
}

// publish copies the guarded fields into view. Callers hold mu, except
// NewManager.
func (m *Manager) publish() {
	st := Status{
		State:         m.state,
		Running:       m.runningLocked(),
		Authenticated: m.token != "",
		StartupTime:   m.started,
	}
	if m.resource != nil {
		st.ResourceID = m.resource.ID()
	}
	m.viewMu.Lock()
	m.view = st
	m.viewMu.Unlock()
}

// fingerprint identifies a credential in logs without revealing it.
func fingerprint(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
