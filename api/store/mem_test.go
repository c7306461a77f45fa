package store

import (
	"context"
	"testing"
	"time"

	"scaffold/api/model"
)

func TestMemStepTransitions(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	s, err := m.EnsureStep(ctx, &model.ActionStep{ID: "s1", ActionID: "a1", Name: "GEN", Status: model.StepWaiting})
	if err != nil {
		t.Fatal(err)
	}
	dup, _ := m.EnsureStep(ctx, &model.ActionStep{ID: "s2", ActionID: "a1", Name: "GEN", Status: model.StepWaiting})
	if dup.ID != s.ID {
		t.Errorf("EnsureStep returned %s, want existing %s", dup.ID, s.ID)
	}

	if ok, _ := m.CompleteStep(ctx, "s1", model.StepSuccess, time.Now()); !ok {
		t.Fatal("first completion should apply")
	}
	if ok, _ := m.CompleteStep(ctx, "s1", model.StepFailed, time.Now()); ok {
		t.Error("second completion should not apply")
	}
	got, _ := m.GetStep(ctx, "s1")
	if got.Status != model.StepSuccess {
		t.Errorf("status = %s, want Success", got.Status)
	}
	if err := m.AppendLog(ctx, &model.ActionLog{ID: "l1", StepID: "missing"}); err != ErrNotFound {
		t.Errorf("AppendLog to missing step err = %v", err)
	}
}

func TestMemBuildEntitiesOrder(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	m.PutProject(model.Project{ID: "p"})
	m.PutResource(model.Resource{ID: "r", ProjectID: "p", Type: model.ResourceService})

	base := time.Now()
	m.PutEntityVersion("r", model.Entity{ID: "e2", VersionID: "e2v1", VersionNumber: 1, Name: "Order", CreatedAt: base.Add(time.Minute)})
	m.PutEntityVersion("r", model.Entity{ID: "e1", VersionID: "e1v0", VersionNumber: 0, Name: "Customer", CreatedAt: base})
	m.PutEntityVersion("r", model.Entity{ID: "e1", VersionID: "e1v1", VersionNumber: 1, Name: "Customer", CreatedAt: base})

	ids, _ := m.LatestEntityVersions(ctx, "p")
	if len(ids) != 2 || ids[0] != "e1v1" || ids[1] != "e2v1" {
		t.Fatalf("LatestEntityVersions = %v", ids)
	}
	m.CreateBuild(ctx, &model.Build{ID: "b", ActionID: "a"}, nil, nil, ids)

	got, _ := m.BuildEntities(ctx, "b", "r")
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Errorf("BuildEntities = %+v", got)
	}
	if got[0].VersionID != "e1v1" {
		t.Errorf("bound version = %s, want e1v1", got[0].VersionID)
	}
}

func TestMemCanUserAccessBuild(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	m.PutUser(model.User{ID: "owner", WorkspaceID: "w1"})
	m.PutUser(model.User{ID: "peer", WorkspaceID: "w1"})
	m.PutUser(model.User{ID: "stranger", WorkspaceID: "w2"})
	m.CreateBuild(ctx, &model.Build{ID: "b", UserID: "owner", ActionID: "a"}, nil, nil, nil)

	for user, want := range map[string]bool{"owner": true, "peer": true, "stranger": false, "nobody": false} {
		if got, _ := m.CanUserAccessBuild(ctx, user, "b"); got != want {
			t.Errorf("CanUserAccessBuild(%s) = %v, want %v", user, got, want)
		}
	}
}
