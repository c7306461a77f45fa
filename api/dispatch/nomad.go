package dispatch

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// JobDispatcher starts a parameterized job.
type JobDispatcher interface {
	DispatchJob(jobID string, meta map[string]string) (string, error)
}

// Nomad runs each generation as a dispatched instance of a parameterized
// batch job. The job template maps the meta keys onto the worker's
// BUILD_* environment.
type Nomad struct {
	jobs   JobDispatcher
	jobID  string
	logger hclog.Logger
}

func NewNomad(jobs JobDispatcher, jobID string, logger hclog.Logger) *Nomad {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Nomad{jobs: jobs, jobID: jobID, logger: logger.Named("dispatch")}
}

func (d *Nomad) Dispatch(_ context.Context, req Request) error {
	id, err := d.jobs.DispatchJob(d.jobID, Meta(req))
	if err != nil {
		return err
	}
	d.logger.Info("dispatched nomad job", "job", id, "buildId", req.BuildID)
	return nil
}

// Meta is the parameterized-job metadata for a request.
func Meta(req Request) map[string]string {
	return map[string]string{
		"resource_id":    req.ResourceID,
		"build_id":       req.BuildID,
		"spec_path":      req.SpecPath,
		"output_path":    req.OutputPath,
		"callback_token": req.CallbackToken,
	}
}
