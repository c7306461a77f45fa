package build

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"scaffold/api/action"
	"scaffold/api/gitrepo"
	"scaffold/api/hub"
	"scaffold/api/jobstore"
	"scaffold/api/lease"
	"scaffold/api/model"
	"scaffold/api/store"
)

type Outcome string

const (
	OutcomeMerged           Outcome = "merged"
	OutcomeNoChanges        Outcome = "no-changes"
	OutcomeConflict         Outcome = "conflict"
	OutcomeDiscarded        Outcome = "discarded"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyCompleted Outcome = "already-completed"
)

// Result describes what a callback did to the build.
type Result struct {
	BuildID   string           `json:"buildId"`
	Outcome   Outcome          `json:"outcome"`
	Status    model.StepStatus `json:"status"`
	Conflicts []string         `json:"conflicts,omitempty"`
}

// Report is the worker's account of a failed generation.
type Report struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// Reconciler finishes generation steps when the worker reports back, merging
// or discarding the generated branch.
type Reconciler struct {
	store   Store
	tracker *action.Tracker
	jobs    jobstore.Store
	leases  lease.Locker
	notify  action.Notifier
	cfg     Config
	logger  hclog.Logger

	mu    sync.Mutex
	locks map[string]*buildLock
}

type buildLock struct {
	sync.Mutex
	refs int
}

func newReconciler(d Deps, cfg Config, logger hclog.Logger) *Reconciler {
	return &Reconciler{
		store:   d.Store,
		tracker: d.Tracker,
		jobs:    d.Jobs,
		leases:  d.Leases,
		notify:  d.Notify,
		cfg:     cfg,
		logger:  logger,
		locks:   make(map[string]*buildLock),
	}
}

// lock serializes callbacks for one build. Different builds never wait on
// each other.
func (r *Reconciler) lock(buildID string) func() {
	r.mu.Lock()
	l, ok := r.locks[buildID]
	if !ok {
		l = &buildLock{}
		r.locks[buildID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, buildID)
		}
		r.mu.Unlock()
	}
}

func (r *Reconciler) locate(ctx context.Context, buildID string) (*model.Build, *model.ActionStep, error) {
	b, err := r.store.GetBuild(ctx, buildID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get build: %w", err)
	}
	step, err := r.store.StepByName(ctx, b.ActionID, GenerateStepName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: build %s", ErrGenerateStepMissing, buildID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get generation step: %w", err)
	}
	return b, step, nil
}

func (r *Reconciler) openRepo(ctx context.Context, b *model.Build) (*gitrepo.Repo, error) {
	resource, err := r.store.GetResource(ctx, b.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	project, err := r.store.GetProject(ctx, resource.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return gitrepo.Open(r.cfg.ArtifactDir(project, resource.ID), r.cfg.AuthorName, r.cfg.AuthorEmail)
}

// OnSuccess commits the worker's output on the generation branch and merges
// it into the branch that was checked out at dispatch time.
//
// Merges are always --no-ff so every build leaves one merge commit. If the
// generation branch is already contained in the target branch nothing is
// merged. A conflicting merge is aborted and the step fails with the
// conflicting paths in the log.
func (r *Reconciler) OnSuccess(ctx context.Context, buildID string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := r.lock(buildID)
	defer unlock()

	b, step, err := r.locate(ctx, buildID)
	if err != nil {
		return nil, err
	}
	log := r.logger.With("buildId", b.ID)
	if step.Status.IsTerminal() {
		log.Info("generation step already completed", "status", step.Status)
		return &Result{BuildID: b.ID, Outcome: OutcomeAlreadyCompleted, Status: step.Status}, nil
	}

	res := r.merge(ctx, b, step, log)
	if err := r.finish(ctx, b, step, res, log); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) merge(ctx context.Context, b *model.Build, step *model.ActionStep, log hclog.Logger) *Result {
	res := &Result{BuildID: b.ID, Outcome: OutcomeFailed, Status: model.StepFailed}
	fail := func(msg string, err error) *Result {
		log.Error(msg, "error", err)
		r.tracker.LogByStepID(ctx, step.ID, model.LogError, msg+": "+err.Error(), nil)
		return res
	}

	rec, err := r.jobs.Get(ctx, b.ID)
	if err != nil {
		return fail("load job record", err)
	}
	repo, err := r.openRepo(ctx, b)
	if err != nil {
		return fail("open artifact directory", err)
	}
	defer func() {
		if res.Status != model.StepFailed || res.Outcome == OutcomeConflict {
			return
		}
		if err := r.park(ctx, repo, b, rec, step, log); err != nil {
			log.Warn("restore artifact directory", "error", err)
			r.tracker.LogByStepID(ctx, step.ID, model.LogWarning, "restore artifact directory: "+err.Error(), nil)
		}
	}()
	gen := r.cfg.GenerationBranch
	branch, err := repo.CurrentBranch()
	if err != nil {
		return fail("read current branch", err)
	}
	if branch != gen {
		return fail("artifact directory left the generation branch", fmt.Errorf("on %q, expected %q", branch, gen))
	}

	committed, err := repo.CommitAll(ctx, fmt.Sprintf("Generated code for build %s (version %s)", b.ID, b.Version))
	if err != nil {
		return fail("commit generated code", err)
	}
	if err := repo.Checkout(ctx, rec.CurrentBranch); err != nil {
		return fail("checkout "+rec.CurrentBranch, err)
	}

	contained, err := repo.IsAncestor(ctx, gen, rec.CurrentBranch)
	if err != nil {
		return fail("compare branches", err)
	}
	if contained {
		log.Info("no generated changes to merge", "branch", rec.CurrentBranch, "committed", committed)
		r.tracker.LogByStepID(ctx, step.ID, model.LogInfo, "no generated changes to merge into "+rec.CurrentBranch, nil)
		res.Outcome, res.Status = OutcomeNoChanges, model.StepSuccess
		return res
	}

	if err := repo.Merge(ctx, gen, fmt.Sprintf("Merge generated code for build %s", b.ID)); err != nil {
		var conflict *gitrepo.ConflictError
		if errors.As(err, &conflict) {
			log.Error("merge conflict", "branch", rec.CurrentBranch, "files", conflict.Files)
			r.tracker.LogByStepID(ctx, step.ID, model.LogError,
				fmt.Sprintf("merging %s into %s conflicts in %d file(s)", gen, rec.CurrentBranch, len(conflict.Files)),
				map[string]interface{}{"files": conflict.Files})
			res.Outcome, res.Conflicts = OutcomeConflict, conflict.Files
			return res
		}
		return fail("merge "+gen, err)
	}

	head, _ := repo.Head(ctx)
	log.Info("generated code merged", "branch", rec.CurrentBranch, "commit", head)
	r.tracker.LogByStepID(ctx, step.ID, model.LogInfo, fmt.Sprintf("merged %s into %s", gen, rec.CurrentBranch), map[string]interface{}{"commit": head})
	res.Outcome, res.Status = OutcomeMerged, model.StepSuccess
	return res
}

// OnFailure fails the generation step. Whatever the worker wrote is committed
// on a branch of its own for inspection and never merged.
func (r *Reconciler) OnFailure(ctx context.Context, buildID string, rep Report) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := r.lock(buildID)
	defer unlock()

	b, step, err := r.locate(ctx, buildID)
	if err != nil {
		return nil, err
	}
	log := r.logger.With("buildId", b.ID)
	if step.Status.IsTerminal() {
		log.Info("generation step already completed", "status", step.Status)
		return &Result{BuildID: b.ID, Outcome: OutcomeAlreadyCompleted, Status: step.Status}, nil
	}

	msg := "code generation failed"
	if rep.Stage != "" {
		msg += " during " + rep.Stage
	}
	if rep.Message != "" {
		msg += ": " + rep.Message
	}
	log.Error(msg)
	var meta map[string]interface{}
	if rep.Stage != "" {
		meta = map[string]interface{}{"stage": rep.Stage}
	}
	r.tracker.LogByStepID(ctx, step.ID, model.LogError, msg, meta)

	r.discard(ctx, b, step, log)
	res := &Result{BuildID: b.ID, Outcome: OutcomeDiscarded, Status: model.StepFailed}
	if err := r.finish(ctx, b, step, res, log); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) discard(ctx context.Context, b *model.Build, step *model.ActionStep, log hclog.Logger) {
	warn := func(msg string, err error) {
		log.Warn(msg, "error", err)
		r.tracker.LogByStepID(ctx, step.ID, model.LogWarning, msg+": "+err.Error(), nil)
	}
	rec, err := r.jobs.Get(ctx, b.ID)
	if err != nil {
		warn("load job record", err)
		return
	}
	repo, err := r.openRepo(ctx, b)
	if err != nil {
		warn("open artifact directory", err)
		return
	}
	if err := r.park(ctx, repo, b, rec, step, log); err != nil {
		warn("restore artifact directory", err)
	}
}

// park moves an unmerged generation off the generation branch. The output
// is committed on <gen>-failed/<buildId>, the working tree goes back to the
// recorded branch and the generation branch returns to where it pointed
// before dispatch, so a later build never merges it.
func (r *Reconciler) park(ctx context.Context, repo *gitrepo.Repo, b *model.Build, rec *model.JobRecord, step *model.ActionStep, log hclog.Logger) error {
	gen := r.cfg.GenerationBranch
	failed := r.cfg.FailedBranch(b.ID)
	branch, err := repo.CurrentBranch()
	if err != nil {
		return fmt.Errorf("read current branch: %w", err)
	}

	var msg string
	switch branch {
	case gen:
		if err := repo.StartBranch(ctx, failed); err != nil {
			return fmt.Errorf("create %s: %w", failed, err)
		}
		if _, err := repo.CommitAll(ctx, fmt.Sprintf("Discarded generation for build %s (version %s)", b.ID, b.Version)); err != nil {
			log.Warn("commit partial output", "error", err)
			if err := repo.ForceCheckout(ctx, rec.CurrentBranch); err != nil {
				return fmt.Errorf("checkout %s: %w", rec.CurrentBranch, err)
			}
			msg = fmt.Sprintf("dropped uncommitted output, back on %s", rec.CurrentBranch)
			break
		}
		if err := repo.Checkout(ctx, rec.CurrentBranch); err != nil {
			if err := repo.ForceCheckout(ctx, rec.CurrentBranch); err != nil {
				return fmt.Errorf("checkout %s: %w", rec.CurrentBranch, err)
			}
		}
		msg = fmt.Sprintf("kept partial output on %s, back on %s", failed, rec.CurrentBranch)
	case rec.CurrentBranch:
		// The output was committed on gen before the merge step failed.
		if rec.GenerationBase == "" {
			return nil
		}
		if err := repo.ResetBranch(ctx, failed, gen); err != nil {
			return fmt.Errorf("create %s: %w", failed, err)
		}
		msg = fmt.Sprintf("kept unmerged output on %s", failed)
	default:
		return nil
	}

	if rec.GenerationBase != "" {
		if err := repo.ResetBranch(ctx, gen, rec.GenerationBase); err != nil {
			return fmt.Errorf("reset %s: %w", gen, err)
		}
	}
	log.Info(msg, "branch", rec.CurrentBranch)
	r.tracker.LogByStepID(ctx, step.ID, model.LogInfo, msg, nil)
	return nil
}

// abort fails a generation that never reached the worker and undoes what the
// dispatch attempt had done to the working tree.
func (r *Reconciler) abort(ctx context.Context, g *generation, cause error) {
	unlock := r.lock(g.build.ID)
	defer unlock()

	g.log.Error("generation dispatch failed", "error", cause)
	var meta map[string]interface{}
	var pe *PreconditionError
	if errors.As(cause, &pe) {
		meta = map[string]interface{}{"kind": "precondition"}
	}
	r.tracker.LogByStepID(ctx, g.step.ID, model.LogError, cause.Error(), meta)

	var result *multierror.Error
	if g.checkedOut {
		if err := g.repo.Checkout(ctx, g.currentBranch); err != nil {
			result = multierror.Append(result, fmt.Errorf("restore branch %s: %w", g.currentBranch, err))
		}
	}
	if g.recorded {
		if err := r.jobs.Delete(ctx, g.build.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("delete job record: %w", err))
		}
	}
	if g.leased {
		if err := r.leases.Release(ctx, g.resourceID, g.build.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("release lease: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		g.log.Warn("cleanup after failed dispatch", "error", err)
	}

	if _, err := r.tracker.Complete(ctx, g.step, model.StepFailed); err != nil {
		g.log.Error("fail generation step", "error", err)
	}
	r.broadcast(g.build, &Result{BuildID: g.build.ID, Outcome: OutcomeFailed, Status: model.StepFailed})
}

func (r *Reconciler) finish(ctx context.Context, b *model.Build, step *model.ActionStep, res *Result, log hclog.Logger) error {
	if _, err := r.tracker.Complete(ctx, step, res.Status); err != nil {
		return err
	}

	var result *multierror.Error
	if err := r.leases.Release(ctx, b.ResourceID, b.ID); err != nil {
		result = multierror.Append(result, fmt.Errorf("release lease: %w", err))
	}
	if !r.cfg.RetainJobs {
		if err := r.jobs.Delete(ctx, b.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("delete job record: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Warn("cleanup after generation", "error", err)
	}

	log.Info("generation finished", "outcome", res.Outcome, "status", res.Status)
	r.broadcast(b, res)
	return nil
}

func (r *Reconciler) broadcast(b *model.Build, res *Result) {
	if r.notify == nil {
		return
	}
	typ := "build.completed"
	if res.Status == model.StepFailed {
		typ = "build.failed"
	}
	r.notify.Broadcast(hub.Event{Type: typ, BuildID: b.ID, ActionID: b.ActionID, Payload: res})
}

// AppendLog records a progress line from the worker on the generation step.
// Lines arriving after the step finished are kept.
func (r *Reconciler) AppendLog(ctx context.Context, buildID string, level model.LogLevel, message string, meta map[string]interface{}) error {
	_, step, err := r.locate(ctx, buildID)
	if err != nil {
		return err
	}
	return r.tracker.LogByStepID(ctx, step.ID, level, message, meta)
}
