package qlik

// Raw QRS payloads. Only the fields the bridge reads are declared.

type namedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RawApp struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Published      bool       `json:"published"`
	PublishTime    string     `json:"publishTime"`
	LastReloadTime string     `json:"lastReloadTime"`
	FileSize       int64      `json:"fileSize"`
	Owner          *namedRef  `json:"owner"`
	Stream         *namedRef  `json:"stream"`
	Tags           []namedRef `json:"tags"`
	CreatedDate    string     `json:"createdDate"`
	ModifiedDate   string     `json:"modifiedDate"`
}

type RawTask struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	TaskType            interface{}            `json:"taskType"`
	Enabled             bool                   `json:"enabled"`
	TaskSessionTimeout  int                    `json:"taskSessionTimeout"`
	MaxRetries          int                    `json:"maxRetries"`
	App                 *namedRef              `json:"app"`
	IsManuallyTriggered bool                   `json:"isManuallyTriggered"`
	IsPartialReload     bool                   `json:"isPartialReload"`
	CreatedDate         string                 `json:"createdDate"`
	ModifiedDate        string                 `json:"modifiedDate"`
	LastExecutionResult map[string]interface{} `json:"lastExecutionResult"`
	NextExecution       string                 `json:"nextExecution"`
	Operational         map[string]interface{} `json:"operational"`
}

type RawExecutionResult struct {
	ID           string            `json:"id"`
	TaskName     string            `json:"taskName"`
	Status       interface{}       `json:"status"`
	StartTime    string            `json:"startTime"`
	StopTime     string            `json:"stopTime"`
	Details      []RawResultDetail `json:"details"`
	CreatedDate  string            `json:"createdDate"`
	ModifiedDate string            `json:"modifiedDate"`
}

type RawResultDetail struct {
	DetailType interface{} `json:"detailType"`
	Timestamp  string      `json:"timestamp"`
	Level      interface{} `json:"level"`
	Message    string      `json:"message"`
}

// About is the QRS /about payload.
type About struct {
	BuildVersion     string `json:"buildVersion"`
	BuildDate        string `json:"buildDate"`
	DatabaseProvider string `json:"databaseProvider"`
	NodeType         int    `json:"nodeType"`
	SchemaPath       string `json:"schemaPath"`
}

// Formatted results returned to callers.

type App struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Published      bool     `json:"published"`
	PublishTime    string   `json:"publishTime"`
	LastReloadTime string   `json:"lastReloadTime"`
	FileSize       int64    `json:"fileSize"`
	Owner          string   `json:"owner"`
	Stream         string   `json:"stream"`
	Tags           []string `json:"tags"`
	Created        string   `json:"created"`
	Modified       string   `json:"modified"`
}

type TaskApp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Task struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	TaskType            interface{}            `json:"taskType"`
	Enabled             bool                   `json:"enabled"`
	TaskSessionTimeout  int                    `json:"taskSessionTimeout"`
	MaxRetries          int                    `json:"maxRetries"`
	App                 TaskApp                `json:"app"`
	IsManuallyTriggered bool                   `json:"isManuallyTriggered"`
	IsPartialReload     bool                   `json:"isPartialReload"`
	Created             string                 `json:"created"`
	Modified            string                 `json:"modified"`
	LastExecutionResult map[string]interface{} `json:"lastExecutionResult"`
	NextExecution       string                 `json:"nextExecution"`
	Operational         map[string]interface{} `json:"operational"`
}

type ScriptLogEntry struct {
	Timestamp string      `json:"timestamp"`
	Level     interface{} `json:"level"`
	Message   string      `json:"message"`
}

type ExecutionLog struct {
	ID                string           `json:"id"`
	TaskID            string           `json:"task_id"`
	TaskName          string           `json:"task_name"`
	Status            interface{}      `json:"status"`
	StartTime         string           `json:"start_time"`
	StopTime          string           `json:"stop_time"`
	DurationMS        int64            `json:"duration_ms"`
	DurationFormatted string           `json:"duration_formatted"`
	ScriptLog         []ScriptLogEntry `json:"script_log"`
	ErrorMessages     []string         `json:"error_messages"`
	HasErrors         bool             `json:"has_errors"`
	Created           string           `json:"created"`
	Modified          string           `json:"modified"`
}

// Script is a load script read through the engine.
type Script struct {
	AppID  string `json:"app_id"`
	Script string `json:"script"`
}

// ScriptUpdate reports the outcome of SetScript.
type ScriptUpdate struct {
	AppID  string `json:"app_id"`
	Length int    `json:"length"`
	Saved  bool   `json:"saved"`
}
