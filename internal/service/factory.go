// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/qlik-mcp/internal/browser"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/mcp"
	"github.com/xkilldash9x/qlik-mcp/internal/observability"
	"github.com/xkilldash9x/qlik-mcp/internal/qlik"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

// ComponentFactory builds the full component graph from configuration.
// It never launches a browser; the session starts on first use.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Components, error)
}

// Option overrides one collaborator, mostly for tests.
type Option func(*overrides)

type overrides struct {
	launcher      session.Launcher
	authenticator session.Authenticator
	refresher     session.Refresher
	healthChecker session.HealthChecker
	sleeper       session.Sleeper
}

func WithLauncher(l session.Launcher) Option { return func(o *overrides) { o.launcher = l } }

// WithAuthenticator replaces the browser login. A value that also
// implements session.Refresher is used for in-place recovery.
func WithAuthenticator(a session.Authenticator) Option {
	return func(o *overrides) {
		o.authenticator = a
		if r, ok := a.(session.Refresher); ok {
			o.refresher = r
		} else {
			o.refresher = nil
		}
	}
}

func WithHealthChecker(h session.HealthChecker) Option {
	return func(o *overrides) { o.healthChecker = h }
}

func WithSleeper(s session.Sleeper) Option { return func(o *overrides) { o.sleeper = s } }

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires config, metrics, the browser session, the retry executor,
// the Qlik gateway and the command endpoint together.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Components, error) {
	qlikCfg := cfg.Qlik()
	if err := qlikCfg.Validate(); err != nil {
		return nil, fmt.Errorf("qlik configuration invalid: %w", err)
	}
	sessCfg := cfg.Session()
	if err := sessCfg.Validate(); err != nil {
		return nil, fmt.Errorf("session configuration invalid: %w", err)
	}

	authenticator := browser.NewAuthenticator(qlikCfg, cfg.Browser(), logger)
	o := &overrides{
		launcher:      browser.NewLauncher(cfg.Browser(), logger),
		authenticator: authenticator,
		refresher:     authenticator,
		healthChecker: browser.NewHealthChecker(qlikCfg, logger),
	}
	for _, opt := range opts {
		opt(o)
	}

	components := &Components{Config: cfg, logger: logger}

	var observer session.Observer
	if cfg.Metrics().Enabled {
		components.Metrics = observability.NewMetrics()
		observer = components.Metrics
	}

	manager, err := session.NewManager(
		session.Options{
			Credentials:  session.Credentials{Username: qlikCfg.Username, Password: qlikCfg.Password},
			MaxRetries:   sessCfg.MaxRetries,
			RetryDelay:   sessCfg.RetryDelay,
			ProbeTimeout: sessCfg.ProbeTimeout,
			LoginTimeout: sessCfg.LoginTimeout,
		},
		session.Dependencies{
			Launcher:      o.launcher,
			Authenticator: o.authenticator,
			HealthChecker: o.healthChecker,
			Refresher:     o.refresher,
			Observer:      observer,
			Sleeper:       o.sleeper,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}
	components.Manager = manager
	logger.Debug("Session manager initialized.")

	execOpts := []session.ExecutorOption{}
	if observer != nil {
		execOpts = append(execOpts, session.WithObserver(observer))
	}
	if o.sleeper != nil {
		execOpts = append(execOpts, session.WithSleeper(o.sleeper))
	}
	components.Executor = session.NewExecutor(manager, session.Policy{
		MaxRetries: sessCfg.OperationRetries,
		BaseDelay:  sessCfg.OperationBaseDelay,
		MaxDelay:   sessCfg.MaxBackoff,
	}, logger, execOpts...)

	netCfg := cfg.Network()
	components.Qlik = qlik.NewService(
		components.Executor,
		qlik.NewClient(qlikCfg, netCfg, logger),
		qlik.NewEngineClient(qlikCfg, netCfg, logger),
		logger,
	)
	logger.Debug("Qlik gateway initialized.", zap.String("server", qlikCfg.ServerURL()))

	components.Monitor = session.NewMonitor(manager, sessCfg.HealthCheckInterval, logger)
	components.Server = mcp.NewServer(cfg, mcp.NewHandlers(logger, components.Qlik, manager), components.Metrics, logger)

	logger.Info("All components initialized.")
	return components, nil
}
