// internal/browser/resource.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/xkilldash9x/qlik-mcp/internal/config"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
)

const defaultLaunchTimeout = 30 * time.Second

// Resource is one Chrome process with a single tab. It implements
// session.Resource.
type Resource struct {
	id      string
	created time.Time
	logger  *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu      sync.Mutex
	closed  bool
	crashed atomic.Bool

	// authAttempts counts basic-auth challenges answered on this tab.
	authAttempts atomic.Int32
	authRejected atomic.Bool
}

var _ session.Resource = (*Resource)(nil)

func (r *Resource) ID() string           { return r.id }
func (r *Resource) CreatedAt() time.Time { return r.created }

// IsOpen is false once the resource was closed or the tab crashed or
// detached.
func (r *Resource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && !r.crashed.Load() && r.tabCtx.Err() == nil
}

// Run executes actions on the tab, bounded by ctx.
func (r *Resource) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(r.tabCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// Close shuts the browser down. Every step runs even when an earlier one
// fails; the errors are joined.
func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error
	func() {
		defer func() {
			if p := recover(); p != nil {
				errs = append(errs, fmt.Errorf("panic while closing browser: %v", p))
			}
		}()
		if err := chromedp.Cancel(r.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("closing tab: %w", err))
		}
	}()
	r.tabCancel()
	r.allocCancel()

	select {
	case <-r.allocCtx.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for browser exit: %w", ctx.Err()))
	}

	r.logger.Debug("Browser resource closed.", zap.Duration("lifetime", time.Since(r.created)))
	return errors.Join(errs...)
}

// watch marks the resource crashed when Chrome reports the tab gone.
func (r *Resource) watch() {
	chromedp.ListenTarget(r.tabCtx, r.handleEvent)
}

func (r *Resource) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *inspector.EventTargetCrashed:
		r.crashed.Store(true)
		r.logger.Warn("Browser tab crashed.")
	case *inspector.EventDetached:
		r.crashed.Store(true)
		r.logger.Warn("Browser tab detached.", zap.String("reason", string(e.Reason)))
	case *target.EventTargetDestroyed:
		if c := chromedp.FromContext(r.tabCtx); c != nil && c.Target != nil && c.Target.TargetID == e.TargetID {
			r.crashed.Store(true)
		}
	}
}

// Launcher starts headless Chrome instances. It implements session.Launcher.
type Launcher struct {
	cfg     config.BrowserConfig
	timeout time.Duration
	logger  *zap.Logger
}

var _ session.Launcher = (*Launcher)(nil)

func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, timeout: defaultLaunchTimeout, logger: logger.Named("browser")}
}

// Launch starts Chrome and opens a blank tab. The browser's lifetime is
// independent of ctx; ctx only bounds how long Launch waits for it.
func (l *Launcher) Launch(ctx context.Context) (session.Resource, error) {
	id := uuid.NewString()
	logger := l.logger.With(zap.String("resource_id", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg)...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	res := &Resource{
		id:          id,
		created:     time.Now(),
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	// The first Run allocates the browser. It must run on tabCtx itself, as a
	// derived deadline would tear the browser down with it, so the wait is
	// bounded here instead.
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx, chromedp.Navigate("about:blank")) }()

	select {
	case err := <-started:
		if err != nil {
			_ = res.Close(context.Background())
			return nil, session.ConnectionError("launch", "browser failed to start", err)
		}
	case <-waitCtx.Done():
		_ = res.Close(context.Background())
		return nil, session.ConnectionError("launch", "browser did not start in time", waitCtx.Err())
	}

	res.watch()
	logger.Info("Browser launched.", zap.Bool("headless", l.cfg.Headless))
	return res, nil
}
