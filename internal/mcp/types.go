// File: internal/mcp/types.go
package mcp

import (
	"context"

	"github.com/xkilldash9x/qlik-mcp/internal/qlik"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

// CommandRequest is one tool invocation.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

// CommandResponse is the envelope returned for every command.
type CommandResponse struct {
	Status    string      `json:"status"` // "success" or "error"
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Tool describes one command in the catalogue.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

// AppParams is the parameter set of the app-scoped tools.
type AppParams struct {
	AppID string `json:"app_id"`
}

type TaskParams struct {
	TaskID string `json:"task_id"`
}

type SetScriptParams struct {
	AppID  string `json:"app_id"`
	Script string `json:"script"`
	Save   bool   `json:"save"`
}

// SessionView is the payload of session_status and GET /api/v1/session.
type SessionView struct {
	session.Status
	Healthy *bool `json:"healthy,omitempty"`
}

// Gateway is the Qlik operation surface exposed as tools.
type Gateway interface {
	About(ctx context.Context) (qlik.About, error)
	ListApps(ctx context.Context) ([]qlik.App, error)
	GetApp(ctx context.Context, appID string) (qlik.App, error)
	ListTasks(ctx context.Context) ([]qlik.Task, error)
	GetTaskLogs(ctx context.Context, taskID string) ([]qlik.ExecutionLog, error)
	GetScript(ctx context.Context, appID string) (qlik.Script, error)
	SetScript(ctx context.Context, appID, script string, save bool) (qlik.ScriptUpdate, error)
}

// SessionControl is the part of the session manager operators may drive.
type SessionControl interface {
	Status() session.Status
	HealthCheck(ctx context.Context) bool
	Restart(ctx context.Context) error
}

var (
	_ Gateway        = (*qlik.Service)(nil)
	_ SessionControl = (*session.Manager)(nil)
)
