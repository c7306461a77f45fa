package action

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scaffold/api/hub"
	"scaffold/api/model"
	"scaffold/api/store"
)

type recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recorder) Broadcast(evt hub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestTracker() (*Tracker, *store.Mem, *recorder) {
	mem := store.NewMem()
	rec := &recorder{}
	return NewTracker(mem, rec, nil), mem, rec
}

func TestRunSuccess(t *testing.T) {
	tr, mem, rec := newTestTracker()
	ctx := context.Background()

	var sawRunning bool
	step, err := tr.Run(ctx, "a1", "GEN", "Generating", func(ctx context.Context, s *model.ActionStep) error {
		got, _ := mem.GetStep(ctx, s.ID)
		sawRunning = got.Status == model.StepRunning
		return nil
	}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawRunning {
		t.Error("step was not Running while work executed")
	}
	if step.Status != model.StepSuccess || step.CompletedAt == nil {
		t.Errorf("step = %+v, want Success with completion time", step)
	}
	if got := strings.Join(rec.types(), ","); got != "build.step,build.step" {
		t.Errorf("events = %s", got)
	}
}

func TestRunFailOnWorkError(t *testing.T) {
	tr, mem, _ := newTestTracker()
	ctx := context.Background()
	boom := errors.New("resource not found")

	step, err := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error {
		return boom
	}, true)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if step.Status != model.StepFailed {
		t.Errorf("status = %s, want Failed", step.Status)
	}
	steps, _ := mem.ListSteps(ctx, "a1")
	if len(steps[0].Logs) != 1 || steps[0].Logs[0].Level != model.LogError {
		t.Errorf("logs = %+v, want one Error entry", steps[0].Logs)
	}
}

func TestRunSwallowedError(t *testing.T) {
	tr, _, _ := newTestTracker()
	step, err := tr.Run(context.Background(), "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error {
		return errors.New("transient")
	}, false)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if step.Status != model.StepRunning {
		t.Errorf("status = %s, want Running", step.Status)
	}
}

func TestRunPendingStaysRunning(t *testing.T) {
	tr, _, _ := newTestTracker()
	step, err := tr.Run(context.Background(), "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error {
		return ErrPending
	}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if step.Status != model.StepRunning || step.CompletedAt != nil {
		t.Errorf("step = %+v, want Running", step)
	}
}

func TestRunWorkCompletesStepItself(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()
	step, err := tr.Run(ctx, "a1", "GEN", "Generating", func(ctx context.Context, s *model.ActionStep) error {
		_, err := tr.Complete(ctx, s, model.StepFailed)
		return err
	}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if step.Status != model.StepFailed {
		t.Errorf("status = %s, want Failed (work's decision must stand)", step.Status)
	}
}

func TestRunReusesFinishedStep(t *testing.T) {
	tr, _, _ := newTestTracker()
	ctx := context.Background()
	first, _ := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error { return nil }, true)

	calls := 0
	second, err := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error {
		calls++
		return nil
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Error("work ran on an already finished step")
	}
	if second.ID != first.ID {
		t.Errorf("step id = %s, want reuse of %s", second.ID, first.ID)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	tr, mem, _ := newTestTracker()
	ctx := context.Background()
	step, _ := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error { return ErrPending }, true)

	ok, err := tr.Complete(ctx, step, model.StepSuccess)
	if err != nil || !ok {
		t.Fatalf("first Complete = %v, %v", ok, err)
	}
	completedAt := *step.CompletedAt

	stale := &model.ActionStep{ID: step.ID, Name: step.Name}
	ok, err = tr.Complete(ctx, stale, model.StepFailed)
	if err != nil || ok {
		t.Fatalf("second Complete = %v, %v, want no-op", ok, err)
	}
	got, _ := mem.GetStep(ctx, step.ID)
	if got.Status != model.StepSuccess || !got.CompletedAt.Equal(completedAt) {
		t.Errorf("step changed after second completion: %+v", got)
	}
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	tr, _, _ := newTestTracker()
	if _, err := tr.Complete(context.Background(), &model.ActionStep{ID: "x"}, model.StepRunning); err == nil {
		t.Error("expected error for non-terminal status")
	}
}

func TestLogAfterCompletion(t *testing.T) {
	tr, mem, _ := newTestTracker()
	ctx := context.Background()
	step, _ := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error { return nil }, true)

	if err := tr.LogByStepID(ctx, step.ID, model.LogInfo, "trailing", map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("LogByStepID: %v", err)
	}
	got, _ := mem.GetStep(ctx, step.ID)
	if got.Status != model.StepSuccess {
		t.Errorf("logging changed status to %s", got.Status)
	}
}

func TestLogEventCarriesActionID(t *testing.T) {
	tr, _, rec := newTestTracker()
	ctx := context.Background()
	step, _ := tr.Run(ctx, "a1", "GEN", "Generating", func(context.Context, *model.ActionStep) error { return ErrPending }, true)

	files := []string{"README.md", "src/app.ts"}
	if err := tr.LogByStepID(ctx, step.ID, model.LogError, "conflicts", map[string]interface{}{"files": files}); err != nil {
		t.Fatalf("LogByStepID: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.events[len(rec.events)-1]
	if last.Type != "build.log" || last.ActionID != "a1" {
		t.Errorf("event = %s for action %q, want build.log for a1", last.Type, last.ActionID)
	}
	l, ok := last.Payload.(*model.ActionLog)
	if !ok {
		t.Fatalf("payload = %T", last.Payload)
	}
	if got, _ := l.Meta["files"].([]string); len(got) != 2 {
		t.Errorf("meta files = %v", l.Meta["files"])
	}
}

func TestPlainFormatter(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out := (&PlainFormatter{}).Format([]model.ActionStep{
		{Message: "Adding task to queue", Status: model.StepSuccess, CreatedAt: ts, Logs: []model.ActionLog{
			{Level: model.LogInfo, Message: "Build Version: 89abcdef", CreatedAt: ts},
		}},
		{Message: "Generating Application", Status: model.StepFailed, CreatedAt: ts, Logs: []model.ActionLog{
			{Level: model.LogError, Message: "merge conflict", CreatedAt: ts},
		}},
	})
	want := "10:00:00 ✓ Adding task to queue\n" +
		"10:00:00   · Build Version: 89abcdef\n" +
		"10:00:00 ✗ Generating Application\n" +
		"10:00:00   ! merge conflict\n"
	if out != want {
		t.Errorf("Format =\n%s\nwant\n%s", out, want)
	}
}
