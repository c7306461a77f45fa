package action

import (
	"fmt"
	"strings"

	"scaffold/api/model"
)

// Formatter renders steps as human-readable text.
type Formatter interface {
	Format(steps []model.ActionStep) string
}

// PlainFormatter renders one line per step followed by its logs.
type PlainFormatter struct{}

func (f *PlainFormatter) Format(steps []model.ActionStep) string {
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "%s %s %s\n", s.CreatedAt.Format("15:04:05"), statusIcon(s.Status), s.Message)
		for _, l := range s.Logs {
			fmt.Fprintf(&b, "%s   %s %s\n", l.CreatedAt.Format("15:04:05"), levelIcon(l.Level), l.Message)
		}
	}
	return b.String()
}

func statusIcon(s model.StepStatus) string {
	switch s {
	case model.StepRunning:
		return "▶"
	case model.StepSuccess:
		return "✓"
	case model.StepFailed:
		return "✗"
	default:
		return "·"
	}
}

func levelIcon(l model.LogLevel) string {
	switch l {
	case model.LogError:
		return "!"
	case model.LogWarning:
		return "?"
	default:
		return "·"
	}
}
