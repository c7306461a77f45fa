package model

import "time"

type BuildStatus string

const (
	BuildRunning   BuildStatus = "Running"
	BuildCompleted BuildStatus = "Completed"
	BuildFailed    BuildStatus = "Failed"
	BuildInvalid   BuildStatus = "Invalid"
)

// Build is one requested generation of a resource at a commit.
type Build struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	UserID     string    `json:"userId"`
	CommitID   string    `json:"commitId"`
	Version    string    `json:"version"`
	Message    string    `json:"message"`
	ActionID   string    `json:"actionId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// VersionFromCommit returns the last 8 characters of a commit id.
func VersionFromCommit(commitID string) string {
	if len(commitID) <= 8 {
		return commitID
	}
	return commitID[len(commitID)-8:]
}

// CalcBuildStatus derives the aggregate status of a build from its steps.
// A failed step wins over everything else.
func CalcBuildStatus(steps []ActionStep) BuildStatus {
	if len(steps) == 0 {
		return BuildInvalid
	}
	for _, s := range steps {
		if s.Status == StepFailed {
			return BuildFailed
		}
	}
	for _, s := range steps {
		if s.Status != StepSuccess {
			return BuildRunning
		}
	}
	return BuildCompleted
}
