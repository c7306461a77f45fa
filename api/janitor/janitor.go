package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"scaffold/api/jobstore"
)

// Builds tells the janitor whether a build still waits on its worker.
type Builds interface {
	Generating(ctx context.Context, buildID string) (bool, error)
}

// Janitor deletes job records that outlived the retention period. Records of
// builds still waiting on a worker are kept.
type Janitor struct {
	cron      *cron.Cron
	jobs      jobstore.Store
	builds    Builds
	retention time.Duration
	logger    hclog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

func New(jobs jobstore.Store, builds Builds, retention time.Duration, logger hclog.Logger) *Janitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Janitor{
		cron:      cron.New(),
		jobs:      jobs,
		builds:    builds,
		retention: retention,
		logger:    logger.Named("janitor"),
		now:       time.Now,
	}
}

// Schedule registers the sweep with a cron spec such as "@hourly".
func (j *Janitor) Schedule(spec string) error {
	id, err := j.cron.AddFunc(spec, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	j.logger.Info("sweep scheduled", "schedule", spec, "next", j.cron.Entry(id).Next)
	return nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep deletes expired records and returns how many were removed. Overlapping
// sweeps are skipped.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return 0, nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	entries, err := j.jobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list job records: %w", err)
	}
	cutoff := j.now().Add(-j.retention)
	removed := 0
	for _, e := range entries {
		if e.WrittenAt.After(cutoff) {
			continue
		}
		if j.builds != nil {
			active, err := j.builds.Generating(ctx, e.BuildID)
			if err != nil {
				j.logger.Warn("check build", "buildId", e.BuildID, "error", err)
				continue
			}
			if active {
				continue
			}
		}
		if err := j.jobs.Delete(ctx, e.BuildID); err != nil {
			j.logger.Warn("delete job record", "buildId", e.BuildID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("removed expired job records", "count", removed)
	}
	return removed, nil
}
