package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"scaffold/api/action"
	"scaffold/api/assemble"
	"scaffold/api/auth"
	"scaffold/api/build"
	"scaffold/api/dispatch"
	"scaffold/api/jobstore"
	"scaffold/api/lease"
	"scaffold/api/model"
	"scaffold/api/querylog"
	"scaffold/api/store"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, dispatch.Request) error { return nil }

type testEnv struct {
	mem     *store.Mem
	tracker *action.Tracker
	signer  *auth.CallbackSigner
	jobs    *jobstore.FS
	ring    *querylog.Ring
	router  chi.Router
}

func newTestEnv(t *testing.T, checks ...Check) *testEnv {
	t.Helper()
	mem := store.NewMem()
	mem.PutUser(model.User{ID: "u1", WorkspaceID: "w1"})
	mem.PutUser(model.User{ID: "u2", WorkspaceID: "w2"})
	mem.PutProject(model.Project{ID: "p1"})
	mem.PutResource(model.Resource{ID: "svc", ProjectID: "p1", Name: "orders", Type: model.ResourceService})
	mem.PutResource(model.Resource{ID: "broker", ProjectID: "p1", Name: "kafka", Type: model.ResourceMessageBroker})

	env := &testEnv{
		mem:    mem,
		signer: auth.NewCallbackSigner("test-secret", time.Hour),
		jobs:   jobstore.NewFS(t.TempDir(), ""),
		ring:   querylog.NewRing(10),
	}
	env.tracker = action.NewTracker(mem, nil, nil)
	orch := build.New(build.Deps{
		Store:      mem,
		Tracker:    env.tracker,
		Assembler:  assemble.New(mem, "http://localhost:8800"),
		Jobs:       env.jobs,
		Dispatcher: nopDispatcher{},
		Leases:     lease.NewMemory(0),
		Tokens:     env.signer,
	}, build.Config{ArtifactsDir: filepath.Join(t.TempDir(), "missing")})

	h := New(orch, env.signer, env.jobs, env.ring, checks, nil)
	r := chi.NewRouter()
	h.Mount(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// runningBuild creates a build whose generation step is waiting on the worker.
func (e *testEnv) runningBuild(t *testing.T, id string) *model.Build {
	t.Helper()
	ctx := context.Background()
	b := &model.Build{ID: id, ResourceID: "svc", UserID: "u1", CommitID: "abcdef0123456789", Version: "23456789", ActionID: id + "-action", CreatedAt: time.Now()}
	if err := e.mem.CreateBuild(ctx, b, nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	_, err := e.tracker.Run(ctx, b.ActionID, build.GenerateStepName, build.GenerateStepMessage, func(context.Context, *model.ActionStep) error {
		return action.ErrPending
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (e *testEnv) token(t *testing.T, buildID string) string {
	t.Helper()
	tok, err := e.signer.Issue(buildID)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestCreateBuild(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/builds", `{"resourceId":"broker","userId":"u1","commitId":"0123456789abcdef","message":"hi"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var view struct {
		ID      string            `json:"id"`
		Version string            `json:"version"`
		Status  model.BuildStatus `json:"status"`
		Steps   []model.ActionStep
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Version != "89abcdef" || view.Status != model.BuildCompleted || len(view.Steps) != 1 {
		t.Errorf("view = %+v", view)
	}
}

func TestCreateBuildErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing commit", `{"resourceId":"svc","userId":"u1"}`, http.StatusBadRequest},
		{"unknown user", `{"resourceId":"svc","userId":"nobody","commitId":"abc"}`, http.StatusNotFound},
		{"unknown resource", `{"resourceId":"nope","userId":"u1","commitId":"abc"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/builds", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestCreateServiceBuildWithoutArtifactDir(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/builds", `{"resourceId":"svc","userId":"u1","commitId":"0123456789abcdef"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var view struct {
		Status model.BuildStatus `json:"status"`
	}
	json.NewDecoder(w.Body).Decode(&view)
	if view.Status != model.BuildFailed {
		t.Errorf("status = %s, want Failed", view.Status)
	}
}

func TestGetBuildAndLog(t *testing.T) {
	env := newTestEnv(t)
	b := env.runningBuild(t, "b1")

	w := env.do(t, "GET", "/api/builds/"+b.ID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"Running"`) {
		t.Errorf("body = %s", w.Body)
	}

	w = env.do(t, "GET", "/api/builds/"+b.ID+"/log", "", "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "▶ Generating Application") {
		t.Errorf("log = %q", w.Body)
	}

	if w := env.do(t, "GET", "/api/builds/missing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing build status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/builds/bad.id", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d", w.Code)
	}
}

func TestListBuildsAndAccess(t *testing.T) {
	env := newTestEnv(t)
	env.runningBuild(t, "b1")

	w := env.do(t, "GET", "/api/builds?resource=svc&limit=5", "", "")
	var list []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["id"] != "b1" {
		t.Errorf("list = %v", list)
	}
	if w := env.do(t, "GET", "/api/builds?limit=-1", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	tests := []struct {
		user string
		want string
	}{
		{"u1", `{"allowed":true}`},
		{"u2", `{"allowed":false}`},
	}
	for _, tt := range tests {
		w := env.do(t, "GET", "/api/builds/b1/access?user="+tt.user, "", "")
		if got := strings.TrimSpace(w.Body.String()); got != tt.want {
			t.Errorf("access(%s) = %s, want %s", tt.user, got, tt.want)
		}
	}
}

func TestCallbackAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.runningBuild(t, "b1")
	env.runningBuild(t, "b2")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"token for another build", env.token(t, "b2"), http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/build-runner/code-generation-success", `{"buildId":"b1"}`, tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
	if w := env.do(t, "POST", "/build-runner/code-generation-success", `{}`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing buildId status = %d", w.Code)
	}
	step, _ := env.mem.StepByName(context.Background(), "b1-action", build.GenerateStepName)
	if step.Status != model.StepRunning {
		t.Errorf("rejected callbacks changed step to %s", step.Status)
	}
}

func TestFailureCallback(t *testing.T) {
	env := newTestEnv(t)
	env.runningBuild(t, "b1")
	tok := env.token(t, "b1")

	w := env.do(t, "POST", "/build-runner/code-generation-failure", `{"buildId":"b1","stage":"install-plugins","message":"npm exited 1"}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var res build.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Outcome != build.OutcomeDiscarded || res.Status != model.StepFailed {
		t.Errorf("result = %+v", res)
	}

	w = env.do(t, "POST", "/build-runner/code-generation-success", `{"buildId":"b1"}`, tok)
	json.NewDecoder(w.Body).Decode(&res)
	if res.Outcome != build.OutcomeAlreadyCompleted || res.Status != model.StepFailed {
		t.Errorf("late success result = %+v", res)
	}
}

func TestSuccessCallbackWithoutJobRecord(t *testing.T) {
	env := newTestEnv(t)
	env.runningBuild(t, "b1")

	w := env.do(t, "POST", "/build-runner/code-generation-success", `{"buildId":"b1"}`, env.token(t, "b1"))
	var res build.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Outcome != build.OutcomeFailed || res.Status != model.StepFailed {
		t.Errorf("result = %+v", res)
	}
}

func TestCallbackErrors(t *testing.T) {
	env := newTestEnv(t)
	broker, err := env.mem.GetResource(context.Background(), "broker")
	if err != nil {
		t.Fatal(err)
	}
	env.mem.CreateBuild(context.Background(), &model.Build{ID: "nogen", ResourceID: broker.ID, ActionID: "nogen-action"}, nil, nil, nil)

	if w := env.do(t, "POST", "/build-runner/code-generation-success", `{"buildId":"nope"}`, env.token(t, "nope")); w.Code != http.StatusNotFound {
		t.Errorf("unknown build status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/build-runner/code-generation-failure", `{"buildId":"nogen"}`, env.token(t, "nogen")); w.Code != http.StatusConflict {
		t.Errorf("missing step status = %d", w.Code)
	}
}

func TestLogCallback(t *testing.T) {
	env := newTestEnv(t)
	env.runningBuild(t, "b1")
	tok := env.token(t, "b1")

	w := env.do(t, "POST", "/build-runner/code-generation-log", `{"buildId":"b1","level":"Warning","message":"plugin db-postgres pinned","stage":"install-plugins"}`, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if w := env.do(t, "POST", "/build-runner/code-generation-log", `{"buildId":"b1","level":"Loud","message":"x"}`, tok); w.Code != http.StatusBadRequest {
		t.Errorf("bad level status = %d", w.Code)
	}

	steps, _ := env.mem.ListSteps(context.Background(), "b1-action")
	if len(steps) != 1 || len(steps[0].Logs) != 1 {
		t.Fatalf("steps = %+v", steps)
	}
	l := steps[0].Logs[0]
	if l.Level != model.LogWarning || l.Meta["stage"] != "install-plugins" {
		t.Errorf("log = %+v", l)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t,
		Check{Name: "store", Fn: func(context.Context) error { return nil }},
		Check{Name: "s3", Fn: func(context.Context) error { return errors.New("connection refused") }},
	)

	w := env.do(t, "GET", "/api/health", "", "")
	var body struct {
		Status   string          `json:"status"`
		Services []ServiceHealth `json:"services"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || len(body.Services) != 2 {
		t.Fatalf("health = %+v", body)
	}
	if body.Services[1].Status != "down" || body.Services[1].Details != "connection refused" {
		t.Errorf("s3 = %+v", body.Services[1])
	}
}

func TestDebugEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.ring.Push(querylog.Entry{SQL: "SELECT 1", Duration: time.Millisecond})
	env.ring.Push(querylog.Entry{SQL: "SELECT 2", Duration: time.Millisecond})
	if _, err := env.jobs.Put(context.Background(), "b9", &model.JobRecord{CurrentBranch: "main"}); err != nil {
		t.Fatal(err)
	}

	var queries []querylog.Entry
	json.NewDecoder(env.do(t, "GET", "/api/debug/queries", "", "").Body).Decode(&queries)
	if len(queries) != 2 || queries[0].SQL != "SELECT 2" {
		t.Errorf("queries = %+v", queries)
	}

	var jobs []jobstore.Entry
	json.NewDecoder(env.do(t, "GET", "/api/debug/jobs", "", "").Body).Decode(&jobs)
	if len(jobs) != 1 || jobs[0].BuildID != "b9" {
		t.Errorf("jobs = %+v", jobs)
	}
}
