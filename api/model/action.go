package model

import "time"

type StepStatus string

const (
	StepWaiting StepStatus = "Waiting"
	StepRunning StepStatus = "Running"
	StepSuccess StepStatus = "Success"
	StepFailed  StepStatus = "Failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s StepStatus) IsTerminal() bool {
	return s == StepSuccess || s == StepFailed
}

type LogLevel string

const (
	LogError   LogLevel = "Error"
	LogWarning LogLevel = "Warning"
	LogInfo    LogLevel = "Info"
	LogDebug   LogLevel = "Debug"
)

func ParseLogLevel(s string) (LogLevel, bool) {
	switch LogLevel(s) {
	case LogError, LogWarning, LogInfo, LogDebug:
		return LogLevel(s), true
	}
	return "", false
}

type Action struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Steps     []ActionStep `json:"steps,omitempty"`
}

type ActionStep struct {
	ID          string      `json:"id"`
	ActionID    string      `json:"actionId"`
	Name        string      `json:"name"`
	Message     string      `json:"message"`
	Status      StepStatus  `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Logs        []ActionLog `json:"logs,omitempty"`
}

// ActionLog metadata is free-form JSON.
type ActionLog struct {
	ID        string                 `json:"id"`
	StepID    string                 `json:"stepId"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
