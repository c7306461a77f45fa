package dispatch

import "context"

// Request is everything a worker needs to run one generation job. It only
// carries addresses; the snapshot itself lives at SpecPath.
type Request struct {
	ResourceID    string `json:"resourceId"`
	BuildID       string `json:"buildId"`
	SpecPath      string `json:"specPath"`
	OutputPath    string `json:"outputPath"`
	CallbackToken string `json:"callbackToken,omitempty"`
}

// Dispatcher hands a job to a worker. It returns once the worker accepted
// the job; completion is reported through the callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}
