package qlik

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RepositoryAPI is the QRS surface the service uses.
type RepositoryAPI interface {
	About(ctx context.Context, token string) (About, error)
	ListApps(ctx context.Context, token string) ([]RawApp, error)
	GetApp(ctx context.Context, token, appID string) (RawApp, error)
	ListTasks(ctx context.Context, token string) ([]RawTask, error)
	GetTaskLogs(ctx context.Context, token, taskID string) ([]RawExecutionResult, error)
}

// ScriptEngine reads and writes app load scripts.
type ScriptEngine interface {
	ReadScript(ctx context.Context, token, appID string) (string, error)
	WriteScript(ctx context.Context, token, appID, script string, save bool) error
}

var (
	_ RepositoryAPI = (*Client)(nil)
	_ ScriptEngine  = (*EngineClient)(nil)
)

// sharedCallTimeout bounds a de-duplicated call, which no single caller's
// context controls.
const sharedCallTimeout = 5 * time.Minute

// Service is the operation gateway. Every remote call runs through the
// executor, so callers never see a stale credential or a dead session.
type Service struct {
	exec   *session.Executor
	rest   RepositoryAPI
	engine ScriptEngine
	group  singleflight.Group
	logger *zap.Logger
}

func NewService(exec *session.Executor, rest RepositoryAPI, engine ScriptEngine, logger *zap.Logger) *Service {
	return &Service{exec: exec, rest: rest, engine: engine, logger: logger.Named("qlik_service")}
}

func (s *Service) About(ctx context.Context) (About, error) {
	return session.Run(ctx, s.exec, "about", s.rest.About)
}

// ListApps returns every app visible to the service account. Concurrent
// callers share one in-flight request.
func (s *Service) ListApps(ctx context.Context) ([]App, error) {
	return shared(ctx, s, "list_apps", func(ctx context.Context) ([]App, error) {
		raw, err := session.Run(ctx, s.exec, "list_apps", s.rest.ListApps)
		if err != nil {
			return nil, err
		}
		return FormatApps(raw), nil
	})
}

func (s *Service) GetApp(ctx context.Context, appID string) (App, error) {
	if err := validateID("get_app", "app_id", appID); err != nil {
		return App{}, err
	}
	raw, err := session.Run(ctx, s.exec, "get_app", func(ctx context.Context, token string) (RawApp, error) {
		return s.rest.GetApp(ctx, token, appID)
	})
	if err != nil {
		return App{}, err
	}
	return FormatApps([]RawApp{raw})[0], nil
}

func (s *Service) ListTasks(ctx context.Context) ([]Task, error) {
	return shared(ctx, s, "list_tasks", func(ctx context.Context) ([]Task, error) {
		raw, err := session.Run(ctx, s.exec, "list_tasks", s.rest.ListTasks)
		if err != nil {
			return nil, err
		}
		return FormatTasks(raw), nil
	})
}

func (s *Service) GetTaskLogs(ctx context.Context, taskID string) ([]ExecutionLog, error) {
	if err := validateID("get_task_logs", "task_id", taskID); err != nil {
		return nil, err
	}
	raw, err := session.Run(ctx, s.exec, "get_task_logs", func(ctx context.Context, token string) ([]RawExecutionResult, error) {
		return s.rest.GetTaskLogs(ctx, token, taskID)
	})
	if err != nil {
		return nil, err
	}
	return FormatExecutionResults(taskID, raw), nil
}

func (s *Service) GetScript(ctx context.Context, appID string) (Script, error) {
	if err := validateID("get_script", "app_id", appID); err != nil {
		return Script{}, err
	}
	script, err := session.Run(ctx, s.exec, "get_script", func(ctx context.Context, token string) (string, error) {
		return s.engine.ReadScript(ctx, token, appID)
	})
	if err != nil {
		return Script{}, err
	}
	return Script{AppID: appID, Script: script}, nil
}

// SetScript replaces the load script. Writes are retried at most once.
func (s *Service) SetScript(ctx context.Context, appID, script string, save bool) (ScriptUpdate, error) {
	if err := validateID("set_script", "app_id", appID); err != nil {
		return ScriptUpdate{}, err
	}
	if strings.TrimSpace(script) == "" {
		return ScriptUpdate{}, session.ValidationError("set_script", "script must not be empty")
	}

	policy := s.exec.Policy()
	if policy.MaxRetries > 1 {
		policy.MaxRetries = 1
	}
	_, err := session.RunWith(ctx, s.exec, policy, "set_script", func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, s.engine.WriteScript(ctx, token, appID, script, save)
	})
	if err != nil {
		return ScriptUpdate{}, err
	}
	s.logger.Info("Load script updated.", zap.String("app_id", appID), zap.Int("length", len(script)), zap.Bool("saved", save))
	return ScriptUpdate{AppID: appID, Length: len(script), Saved: save}, nil
}

// validateID rejects ids that are not Qlik GUIDs before any remote call.
func validateID(op, field, id string) error {
	if strings.TrimSpace(id) == "" {
		return session.ValidationError(op, field+" is required")
	}
	if err := uuid.Validate(id); err != nil {
		return session.ValidationError(op, field+" is not a valid GUID: "+id)
	}
	return nil
}

// shared runs fn once for every concurrent caller of key. fn runs detached
// from the caller that started it, so one caller giving up never fails the
// others; each caller stops waiting when its own ctx is done.
func shared[T any](ctx context.Context, s *Service, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := s.group.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(runCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			s.logger.Debug("Shared in-flight request.", zap.String("operation", key))
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, session.ConnectionError(key, "stopped waiting for shared request", ctx.Err())
	}
}
