package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"scaffold/api/action"
	"scaffold/api/dispatch"
	"scaffold/api/jobstore"
	"scaffold/api/lease"
	"scaffold/api/model"
	"scaffold/api/store"
)

const (
	QueueStepName       = "ADD_TO_QUEUE"
	QueueStepMessage    = "Adding task to queue"
	GenerateStepName    = "GENERATE_APPLICATION"
	GenerateStepMessage = "Generating Application"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrBuildNotFound       = errors.New("build not found")
	ErrGenerateStepMissing = errors.New("build has no generation step")
)

// PreconditionError means the artifact working tree was not in a state a
// generation can start from. It is never retried.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return "precondition failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "precondition failed: " + e.Reason
}

func (e *PreconditionError) Unwrap() error { return e.Err }

type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	LatestEntityVersions(ctx context.Context, projectID string) ([]string, error)
	CreateBuild(ctx context.Context, b *model.Build, step *model.ActionStep, logs []model.ActionLog, entityVersionIDs []string) error
	GetBuild(ctx context.Context, id string) (*model.Build, error)
	ListBuilds(ctx context.Context, resourceID string, limit int) ([]model.Build, error)
	StepByName(ctx context.Context, actionID, name string) (*model.ActionStep, error)
	ListSteps(ctx context.Context, actionID string) ([]model.ActionStep, error)
	CanUserAccessBuild(ctx context.Context, userID, buildID string) (bool, error)
}

type Assembler interface {
	Assemble(ctx context.Context, resourceID, buildID, buildVersion string, user *model.User, rootGeneration bool) (*model.DSGResourceData, error)
}

type Validator interface {
	ValidateJobRecord(rec interface{}) error
}

type TokenIssuer interface {
	Issue(buildID string) (string, error)
}

type Config struct {
	ArtifactsDir     string
	GenerationBranch string
	AuthorName       string
	AuthorEmail      string
	RetainJobs       bool
}

type Deps struct {
	Store      Store
	Tracker    *action.Tracker
	Assembler  Assembler
	Validator  Validator
	Jobs       jobstore.Store
	Dispatcher dispatch.Dispatcher
	Leases     lease.Locker
	Tokens     TokenIssuer
	Notify     action.Notifier
	Logger     hclog.Logger
}

// Orchestrator creates builds and drives their generation step.
type Orchestrator struct {
	store      Store
	tracker    *action.Tracker
	assembler  Assembler
	validator  Validator
	jobs       jobstore.Store
	dispatcher dispatch.Dispatcher
	leases     lease.Locker
	tokens     TokenIssuer
	reconciler *Reconciler
	cfg        Config
	logger     hclog.Logger
	now        func() time.Time
}

func New(d Deps, cfg Config) *Orchestrator {
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if cfg.GenerationBranch == "" {
		cfg.GenerationBranch = "scaffold"
	}
	logger := d.Logger.Named("build")
	return &Orchestrator{
		store:      d.Store,
		tracker:    d.Tracker,
		assembler:  d.Assembler,
		validator:  d.Validator,
		jobs:       d.Jobs,
		dispatcher: d.Dispatcher,
		leases:     d.Leases,
		tokens:     d.Tokens,
		reconciler: newReconciler(d, cfg, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

type CreateArgs struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	CommitID   string `json:"commitId"`
	Message    string `json:"message"`
}

// Create records a build and, for service resources, starts its generation.
// Only failures before the build exists are returned; after that, failures
// are recorded on the generation step.
func (o *Orchestrator) Create(ctx context.Context, args CreateArgs) (*model.Build, error) {
	if args.CommitID == "" {
		return nil, errors.New("commit id is required")
	}
	user, err := o.store.GetUser(ctx, args.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, args.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	resource, err := o.store.GetResource(ctx, args.ResourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, args.ResourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	versions, err := o.store.LatestEntityVersions(ctx, resource.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("latest entity versions: %w", err)
	}

	now := o.now()
	b := &model.Build{
		ID:         uuid.New().String(),
		ResourceID: resource.ID,
		UserID:     user.ID,
		CommitID:   args.CommitID,
		Version:    model.VersionFromCommit(args.CommitID),
		Message:    args.Message,
		ActionID:   uuid.New().String(),
		CreatedAt:  now,
	}
	queued := &model.ActionStep{
		ID:          uuid.New().String(),
		ActionID:    b.ActionID,
		Name:        QueueStepName,
		Message:     QueueStepMessage,
		Status:      model.StepSuccess,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	var logs []model.ActionLog
	for _, msg := range []string{
		"create build generation task",
		"Build Version: " + b.Version,
		"Build message: " + b.Message,
	} {
		logs = append(logs, model.ActionLog{
			ID:        uuid.New().String(),
			StepID:    queued.ID,
			Level:     model.LogInfo,
			Message:   msg,
			CreatedAt: now,
		})
	}
	if err := o.store.CreateBuild(ctx, b, queued, logs, versions); err != nil {
		return nil, fmt.Errorf("create build: %w", err)
	}

	log := o.logger.With("buildId", b.ID, "resourceId", resource.ID)
	log.Info("build created", "version", b.Version, "entityVersions", len(versions))

	if resource.Type != model.ResourceService {
		log.Info("code generation is only supported for services, skipping", "resourceType", resource.Type)
		return b, nil
	}

	// From here on the build exists and must survive whatever happens.
	ctx = context.WithoutCancel(ctx)
	if _, err := o.tracker.Run(ctx, b.ActionID, GenerateStepName, GenerateStepMessage, func(ctx context.Context, step *model.ActionStep) error {
		return o.generate(ctx, b, user, resource, step, log)
	}, true); err != nil {
		log.Error("generation failed", "error", err)
	}
	return b, nil
}

// View is a build with its steps and derived status.
type View struct {
	*model.Build
	Status model.BuildStatus  `json:"status"`
	Steps  []model.ActionStep `json:"steps"`
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*View, error) {
	b, err := o.store.GetBuild(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	steps, err := o.store.ListSteps(ctx, b.ActionID)
	if err != nil {
		return nil, err
	}
	if steps == nil {
		steps = []model.ActionStep{}
	}
	return &View{Build: b, Status: model.CalcBuildStatus(steps), Steps: steps}, nil
}

func (o *Orchestrator) List(ctx context.Context, resourceID string, limit int) ([]View, error) {
	builds, err := o.store.ListBuilds(ctx, resourceID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(builds))
	for i := range builds {
		steps, err := o.store.ListSteps(ctx, builds[i].ActionID)
		if err != nil {
			return nil, err
		}
		views = append(views, View{Build: &builds[i], Status: model.CalcBuildStatus(steps)})
	}
	return views, nil
}

// CanUserAccess reports whether userID may see the build.
func (o *Orchestrator) CanUserAccess(ctx context.Context, userID, buildID string) (bool, error) {
	return o.store.CanUserAccessBuild(ctx, userID, buildID)
}

// Generating reports whether the build's generation step is still open.
func (o *Orchestrator) Generating(ctx context.Context, buildID string) (bool, error) {
	b, err := o.store.GetBuild(ctx, buildID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	step, err := o.store.StepByName(ctx, b.ActionID, GenerateStepName)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !step.Status.IsTerminal(), nil
}
