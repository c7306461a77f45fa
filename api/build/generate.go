package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"scaffold/api/action"
	"scaffold/api/dispatch"
	"scaffold/api/gitrepo"
	"scaffold/api/lease"
	"scaffold/api/model"
)

// ArtifactDir is the working tree generated code for a resource lands in.
func (c Config) ArtifactDir(p *model.Project, resourceID string) string {
	base := p.BaseDirectory
	if base == "" {
		base = p.ID
	}
	return filepath.Join(c.ArtifactsDir, base, resourceID)
}

// FailedBranch holds the output of a generation that was not merged.
func (c Config) FailedBranch(buildID string) string {
	return c.GenerationBranch + "-failed/" + buildID
}

// generation tracks what a dispatch attempt has touched so far, so a failure
// can undo exactly that much.
type generation struct {
	build      *model.Build
	step       *model.ActionStep
	resourceID string
	projectID  string
	dir        string
	log        hclog.Logger

	repo          *gitrepo.Repo
	currentBranch string
	leased        bool
	checkedOut    bool
	recorded      bool
}

func (o *Orchestrator) generate(ctx context.Context, b *model.Build, user *model.User, resource *model.Resource, step *model.ActionStep, log hclog.Logger) error {
	g := &generation{build: b, step: step, resourceID: resource.ID, projectID: resource.ProjectID, log: log}
	if err := o.dispatch(ctx, g, user); err != nil {
		o.reconciler.abort(ctx, g, err)
		return nil
	}
	return action.ErrPending
}

func (o *Orchestrator) dispatch(ctx context.Context, g *generation, user *model.User) error {
	b := g.build

	data, err := o.assembler.Assemble(ctx, g.resourceID, b.ID, b.Version, user, true)
	if err != nil {
		return fmt.Errorf("assemble resource data: %w", err)
	}
	project, err := o.store.GetProject(ctx, g.projectID)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	g.dir = o.cfg.ArtifactDir(project, g.resourceID)

	repo, err := gitrepo.Open(g.dir, o.cfg.AuthorName, o.cfg.AuthorEmail)
	if err != nil {
		return &PreconditionError{Reason: "artifact directory is not ready", Err: err}
	}
	g.repo = repo

	if err := o.leases.Acquire(ctx, g.resourceID, b.ID); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			holder, _ := o.leases.Holder(ctx, g.resourceID)
			return &PreconditionError{Reason: "artifact directory is in use by build " + holder, Err: err}
		}
		return fmt.Errorf("acquire lease: %w", err)
	}
	g.leased = true

	current, err := repo.CurrentBranch()
	if err != nil {
		return &PreconditionError{Reason: "cannot determine current branch", Err: err}
	}
	if current == o.cfg.GenerationBranch {
		return &PreconditionError{Reason: fmt.Sprintf("artifact directory is already on the generation branch %q", current)}
	}
	born, err := repo.HasCommits()
	if err != nil {
		return &PreconditionError{Reason: "cannot read HEAD", Err: err}
	}
	if !born {
		return &PreconditionError{Reason: fmt.Sprintf("artifact directory has no commits on branch %q", current)}
	}
	clean, err := repo.IsClean(ctx)
	if err != nil {
		return fmt.Errorf("inspect working tree: %w", err)
	}
	if !clean {
		return &PreconditionError{Reason: "artifact directory has uncommitted changes"}
	}
	g.currentBranch = current

	rec := &model.JobRecord{DSGResourceData: *data, CurrentBranch: current}
	if o.validator != nil {
		if err := o.validator.ValidateJobRecord(rec); err != nil {
			return fmt.Errorf("job record: %w", err)
		}
	}

	if err := repo.CheckoutOrCreate(ctx, o.cfg.GenerationBranch); err != nil {
		return fmt.Errorf("checkout generation branch: %w", err)
	}
	g.checkedOut = true
	if rec.GenerationBase, err = repo.Head(ctx); err != nil {
		return fmt.Errorf("read generation branch: %w", err)
	}

	specPath, err := o.jobs.Put(ctx, b.ID, rec)
	if err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	g.recorded = true

	req := dispatch.Request{
		ResourceID: g.resourceID,
		BuildID:    b.ID,
		SpecPath:   specPath,
		OutputPath: g.dir,
	}
	if o.tokens != nil {
		token, err := o.tokens.Issue(b.ID)
		if err != nil {
			return fmt.Errorf("issue callback token: %w", err)
		}
		req.CallbackToken = token
	}
	if err := o.dispatcher.Dispatch(ctx, req); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	g.log.Info("generation job dispatched", "specPath", specPath, "outputPath", g.dir, "branch", current)
	o.tracker.LogByStepID(ctx, g.step.ID, model.LogInfo, "generation job dispatched", map[string]interface{}{
		"specPath":      specPath,
		"outputPath":    g.dir,
		"currentBranch": current,
	})
	return nil
}
