package qlik

import (
	"fmt"
	"sort"
	"time"
)

const (
	unknown        = "Unknown"
	personalStream = "Personal"

	detailScriptLog = "ScriptLogEntry"
	detailError     = "Error"
)

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// FormatApps flattens QRS apps. Missing owners are "Unknown" and apps
// outside any stream are "Personal".
func FormatApps(raw []RawApp) []App {
	apps := make([]App, 0, len(raw))
	for _, a := range raw {
		app := App{
			ID:             a.ID,
			Name:           orDefault(a.Name, unknown),
			Description:    a.Description,
			Published:      a.Published,
			PublishTime:    a.PublishTime,
			LastReloadTime: a.LastReloadTime,
			FileSize:       a.FileSize,
			Owner:          unknown,
			Stream:         personalStream,
			Tags:           make([]string, 0, len(a.Tags)),
			Created:        a.CreatedDate,
			Modified:       a.ModifiedDate,
		}
		if a.Owner != nil {
			app.Owner = orDefault(a.Owner.Name, unknown)
		}
		if a.Stream != nil {
			app.Stream = orDefault(a.Stream.Name, personalStream)
		}
		for _, tag := range a.Tags {
			app.Tags = append(app.Tags, tag.Name)
		}
		apps = append(apps, app)
	}
	return apps
}

func FormatTasks(raw []RawTask) []Task {
	tasks := make([]Task, 0, len(raw))
	for _, t := range raw {
		task := Task{
			ID:                  t.ID,
			Name:                orDefault(t.Name, unknown),
			TaskType:            t.TaskType,
			Enabled:             t.Enabled,
			TaskSessionTimeout:  t.TaskSessionTimeout,
			MaxRetries:          t.MaxRetries,
			IsManuallyTriggered: t.IsManuallyTriggered,
			IsPartialReload:     t.IsPartialReload,
			Created:             t.CreatedDate,
			Modified:            t.ModifiedDate,
			LastExecutionResult: t.LastExecutionResult,
			NextExecution:       t.NextExecution,
			Operational:         t.Operational,
		}
		if task.TaskType == nil {
			task.TaskType = unknown
		}
		if task.LastExecutionResult == nil {
			task.LastExecutionResult = map[string]interface{}{}
		}
		if task.Operational == nil {
			task.Operational = map[string]interface{}{}
		}
		if t.App != nil {
			task.App = TaskApp{ID: t.App.ID, Name: t.App.Name}
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// FormatExecutionResults builds the log view of one task's executions,
// newest first.
func FormatExecutionResults(taskID string, raw []RawExecutionResult) []ExecutionLog {
	logs := make([]ExecutionLog, 0, len(raw))
	for _, r := range raw {
		entry := ExecutionLog{
			ID:                r.ID,
			TaskID:            taskID,
			TaskName:          orDefault(r.TaskName, unknown),
			Status:            r.Status,
			StartTime:         r.StartTime,
			StopTime:          r.StopTime,
			DurationFormatted: unknown,
			ScriptLog:         []ScriptLogEntry{},
			ErrorMessages:     []string{},
			Created:           r.CreatedDate,
			Modified:          r.ModifiedDate,
		}
		if entry.Status == nil {
			entry.Status = unknown
		}
		if d, ok := executionDuration(r.StartTime, r.StopTime); ok {
			entry.DurationMS = d.Milliseconds()
			entry.DurationFormatted = fmt.Sprintf("%.2fs", float64(entry.DurationMS)/1000)
		}
		for _, d := range r.Details {
			switch detailTypeName(d.DetailType) {
			case detailScriptLog:
				entry.ScriptLog = append(entry.ScriptLog, ScriptLogEntry{Timestamp: d.Timestamp, Level: d.Level, Message: d.Message})
			case detailError:
				entry.ErrorMessages = append(entry.ErrorMessages, d.Message)
			}
		}
		entry.HasErrors = len(entry.ErrorMessages) > 0
		logs = append(logs, entry)
	}

	sort.SliceStable(logs, func(i, j int) bool { return logs[i].StartTime > logs[j].StartTime })
	return logs
}

func executionDuration(start, stop string) (time.Duration, bool) {
	if start == "" || stop == "" {
		return 0, false
	}
	begin, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339Nano, stop)
	if err != nil {
		return 0, false
	}
	return end.Sub(begin), true
}

// detailTypeName accepts QRS detail types sent either by name or by their
// numeric enum value (1 script log, 2 error).
func detailTypeName(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		switch int(t) {
		case 1:
			return detailScriptLog
		case 2:
			return detailError
		}
	}
	return ""
}
