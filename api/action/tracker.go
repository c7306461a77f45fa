package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"scaffold/api/hub"
	"scaffold/api/model"
)

// ErrPending is returned by work that hands the step to someone else to
// finish. The step is left Running.
var ErrPending = errors.New("step pending external completion")

type Store interface {
	EnsureStep(ctx context.Context, step *model.ActionStep) (*model.ActionStep, error)
	GetStep(ctx context.Context, id string) (*model.ActionStep, error)
	StartStep(ctx context.Context, id string) (bool, error)
	CompleteStep(ctx context.Context, id string, status model.StepStatus, at time.Time) (bool, error)
	AppendLog(ctx context.Context, l *model.ActionLog) error
}

type Notifier interface {
	Broadcast(evt hub.Event)
}

type Work func(ctx context.Context, step *model.ActionStep) error

// Tracker records step progress and logs for actions.
type Tracker struct {
	store  Store
	notify Notifier
	logger hclog.Logger
	now    func() time.Time
}

func NewTracker(store Store, notify Notifier, logger hclog.Logger) *Tracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Tracker{store: store, notify: notify, logger: logger.Named("action"), now: time.Now}
}

// Run creates or reuses the named step, marks it Running and executes work.
//
// A nil return from work completes the step with Success unless work already
// completed it. ErrPending leaves the step Running. Any other error is logged
// on the step; with failOnWorkError the step is Failed and the error returned,
// otherwise the error is swallowed and the step stays open.
func (t *Tracker) Run(ctx context.Context, actionID, stepName, stepMessage string, work Work, failOnWorkError bool) (*model.ActionStep, error) {
	step, err := t.store.EnsureStep(ctx, &model.ActionStep{
		ID:        uuid.New().String(),
		ActionID:  actionID,
		Name:      stepName,
		Message:   stepMessage,
		Status:    model.StepWaiting,
		CreatedAt: t.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure step %s: %w", stepName, err)
	}
	if step.Status.IsTerminal() {
		t.logger.Debug("step already finished", "step", stepName, "status", step.Status)
		return step, nil
	}

	if _, err := t.store.StartStep(ctx, step.ID); err != nil {
		return step, fmt.Errorf("start step %s: %w", stepName, err)
	}
	step.Status = model.StepRunning
	t.broadcast(step)

	werr := work(ctx, step)
	switch {
	case werr == nil:
		if _, err := t.Complete(ctx, step, model.StepSuccess); err != nil {
			return step, err
		}
	case errors.Is(werr, ErrPending):
	case failOnWorkError:
		t.LogByStepID(ctx, step.ID, model.LogError, werr.Error(), nil)
		if _, err := t.Complete(ctx, step, model.StepFailed); err != nil {
			t.logger.Error("fail step", "step", stepName, "error", err)
		}
		return t.reload(ctx, step), werr
	default:
		t.logger.Warn("step work failed, awaiting external completion", "step", stepName, "error", werr)
		t.LogByStepID(ctx, step.ID, model.LogError, werr.Error(), nil)
	}
	return t.reload(ctx, step), nil
}

// LogByStepID appends a log entry to a step. A failed write is reported to
// the caller but never changes the step status.
func (t *Tracker) LogByStepID(ctx context.Context, stepID string, level model.LogLevel, message string, meta map[string]interface{}) error {
	l := &model.ActionLog{
		ID:        uuid.New().String(),
		StepID:    stepID,
		Level:     level,
		Message:   message,
		Meta:      meta,
		CreatedAt: t.now(),
	}
	if err := t.store.AppendLog(ctx, l); err != nil {
		t.logger.Error("append step log", "stepId", stepID, "error", err)
		return err
	}
	if t.notify != nil {
		evt := hub.Event{Type: "build.log", Payload: l}
		if step, err := t.store.GetStep(ctx, stepID); err == nil {
			evt.ActionID = step.ActionID
		}
		t.notify.Broadcast(evt)
	}
	return nil
}

// Complete moves the step to a terminal status. It reports whether this call
// made the transition; completing an already finished step is a no-op.
func (t *Tracker) Complete(ctx context.Context, step *model.ActionStep, status model.StepStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("complete step %s: %s is not a terminal status", step.Name, status)
	}
	at := t.now()
	ok, err := t.store.CompleteStep(ctx, step.ID, status, at)
	if err != nil {
		return false, fmt.Errorf("complete step %s: %w", step.Name, err)
	}
	if !ok {
		return false, nil
	}
	step.Status = status
	step.CompletedAt = &at
	t.broadcast(step)
	return true, nil
}

func (t *Tracker) reload(ctx context.Context, step *model.ActionStep) *model.ActionStep {
	fresh, err := t.store.GetStep(ctx, step.ID)
	if err != nil {
		return step
	}
	return fresh
}

func (t *Tracker) broadcast(step *model.ActionStep) {
	if t.notify == nil {
		return
	}
	t.notify.Broadcast(hub.Event{Type: "build.step", ActionID: step.ActionID, Payload: map[string]string{
		"stepId": step.ID,
		"step":   step.Name,
		"status": string(step.Status),
	}})
}
