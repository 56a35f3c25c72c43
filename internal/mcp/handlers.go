// File: internal/mcp/handlers.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxCommandBody = 1 << 20

type toolFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

type toolEntry struct {
	Tool
	run toolFunc
}

// Handlers manages the HTTP request handling for the command endpoint.
type Handlers struct {
	log     *zap.Logger
	gateway Gateway
	session SessionControl
	tools   map[string]toolEntry
}

// NewHandlers creates a new Handlers instance with the full tool catalogue.
func NewHandlers(logger *zap.Logger, gateway Gateway, sess SessionControl) *Handlers {
	h := &Handlers{
		log:     logger.Named("mcp_handlers"),
		gateway: gateway,
		session: sess,
	}
	h.tools = h.catalogue()
	return h
}

func (h *Handlers) catalogue() map[string]toolEntry {
	entries := []toolEntry{
		{Tool{"list_apps", "List every app visible to the service account.", nil}, h.listApps},
		{Tool{"get_app", "Fetch one app by id.", []string{"app_id"}}, h.getApp},
		{Tool{"list_tasks", "List reload tasks.", nil}, h.listTasks},
		{Tool{"get_task_logs", "Execution history of a task, newest first.", []string{"task_id"}}, h.getTaskLogs},
		{Tool{"get_script", "Read the load script of an app.", []string{"app_id"}}, h.getScript},
		{Tool{"set_script", "Replace the load script of an app, optionally saving it.", []string{"app_id", "script", "save"}}, h.setScript},
		{Tool{"server_info", "QRS build and node information.", nil}, h.serverInfo},
		{Tool{"session_status", "State of the browser session.", nil}, h.sessionStatus},
		{Tool{"health_check", "Probe the browser session.", nil}, h.healthCheck},
		{Tool{"restart_session", "Tear down and re-authenticate the browser session.", nil}, h.restartSession},
		{Tool{"ping", "Liveness of the command endpoint.", nil}, h.ping},
	}
	tools := make(map[string]toolEntry, len(entries))
	for _, e := range entries {
		tools[e.Name] = e
	}
	return tools
}

// Tools returns the catalogue sorted by name.
func (h *Handlers) Tools() []Tool {
	out := make([]Tool, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, e.Tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterRoutes sets up the routing for the command endpoint.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/command", h.HandleCommand)
		r.Get("/tools", h.HandleListTools)
		r.Get("/session", h.HandleSession)
	})
}

// HandleHealthCheck confirms the server is responsive. It does not touch the
// browser session.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleListTools(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, r, http.StatusOK, h.Tools())
}

func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, r, http.StatusOK, SessionView{Status: h.session.Status()})
}

// HandleCommand decodes a CommandRequest and runs the named tool.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&req); err != nil {
		h.respondWithError(w, r, session.ValidationError("decode", fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	h.log.Info("Received command", zap.String("command", req.Command), zap.String("request_id", middleware.GetReqID(r.Context())))

	data, err := h.Dispatch(r.Context(), req)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithSuccess(w, r, http.StatusOK, data)
}

// Dispatch runs one command. Unknown commands are validation errors.
func (h *Handlers) Dispatch(ctx context.Context, req CommandRequest) (interface{}, error) {
	entry, ok := h.tools[strings.ToLower(strings.TrimSpace(req.Command))]
	if !ok {
		return nil, session.ValidationError("dispatch", fmt.Sprintf("unknown command: %s", req.Command))
	}
	return entry.run(ctx, req.Params)
}

func (h *Handlers) listApps(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	apps, err := h.gateway.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(apps), "apps": apps}, nil
}

func (h *Handlers) getApp(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	p, err := mapToStruct[AppParams]("get_app", params)
	if err != nil {
		return nil, err
	}
	return h.gateway.GetApp(ctx, p.AppID)
}

func (h *Handlers) listTasks(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	tasks, err := h.gateway.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(tasks), "tasks": tasks}, nil
}

func (h *Handlers) getTaskLogs(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	p, err := mapToStruct[TaskParams]("get_task_logs", params)
	if err != nil {
		return nil, err
	}
	logs, err := h.gateway.GetTaskLogs(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"task_id": p.TaskID, "count": len(logs), "executions": logs}, nil
}

func (h *Handlers) getScript(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	p, err := mapToStruct[AppParams]("get_script", params)
	if err != nil {
		return nil, err
	}
	return h.gateway.GetScript(ctx, p.AppID)
}

func (h *Handlers) setScript(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	p, err := mapToStruct[SetScriptParams]("set_script", params)
	if err != nil {
		return nil, err
	}
	return h.gateway.SetScript(ctx, p.AppID, p.Script, p.Save)
}

func (h *Handlers) serverInfo(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return h.gateway.About(ctx)
}

func (h *Handlers) sessionStatus(context.Context, map[string]interface{}) (interface{}, error) {
	return SessionView{Status: h.session.Status()}, nil
}

func (h *Handlers) healthCheck(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	healthy := h.session.HealthCheck(ctx)
	return SessionView{Status: h.session.Status(), Healthy: &healthy}, nil
}

func (h *Handlers) restartSession(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := h.session.Restart(ctx); err != nil {
		return nil, err
	}
	return SessionView{Status: h.session.Status()}, nil
}

func (h *Handlers) ping(context.Context, map[string]interface{}) (interface{}, error) {
	return map[string]string{"message": "pong"}, nil
}

// mapToStruct converts tool parameters into T through a JSON round trip.
func mapToStruct[T any](op string, m map[string]interface{}) (T, error) {
	var result T
	if m == nil {
		return result, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return result, session.ValidationError(op, fmt.Sprintf("invalid parameters: %v", err))
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, session.ValidationError(op, fmt.Sprintf("invalid parameters: %v", err))
	}
	return result, nil
}

// StatusForError maps an error kind onto an HTTP status code.
func StatusForError(err error) int {
	switch session.KindOf(err) {
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindAuthentication:
		return http.StatusUnauthorized
	case session.KindConnection, session.KindRecoveryExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorEnvelope renders err for a caller. Validation messages are shown
// bare; everything else keeps its full chain.
func errorEnvelope(err error) CommandResponse {
	kind := string(session.KindOf(err))
	if kind == "" {
		kind = "INTERNAL_ERROR"
	}
	msg := err.Error()
	var se *session.Error
	if errors.As(err, &se) && se.Kind == session.KindValidation {
		msg = se.Msg
	}
	return CommandResponse{Status: "error", Error: msg, Kind: kind}
}

func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	resp := errorEnvelope(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Command failed", zap.String("kind", resp.Kind), zap.Error(err))
	} else {
		h.log.Warn("Command rejected", zap.String("kind", resp.Kind), zap.Error(err))
	}
	h.respond(w, r, status, resp)
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	h.respond(w, r, statusCode, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, statusCode int, resp CommandResponse) {
	resp.RequestID = middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
