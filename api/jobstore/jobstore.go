package jobstore

import (
	"context"
	"errors"
	"time"

	"scaffold/api/model"
)

var ErrNotFound = errors.New("job record not found")

// DefaultFile is the name of the snapshot inside a build's job folder.
const DefaultFile = "input.json"

// Store keeps the job record of a build where the worker can reach it.
type Store interface {
	// Put writes the record and returns the address handed to the worker.
	Put(ctx context.Context, buildID string, rec *model.JobRecord) (string, error)
	Get(ctx context.Context, buildID string) (*model.JobRecord, error)
	Delete(ctx context.Context, buildID string) error
	List(ctx context.Context) ([]Entry, error)
}

type Entry struct {
	BuildID   string    `json:"buildId"`
	SpecPath  string    `json:"specPath"`
	WrittenAt time.Time `json:"writtenAt"`
}
