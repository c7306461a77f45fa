package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"scaffold/api/model"
)

// Mem is an in-process store with the same behavior as DB. It backs local
// runs without postgres and the package tests of its consumers.
type Mem struct {
	mu        sync.Mutex
	users     map[string]model.User
	projects  map[string]model.Project
	resources map[string]model.Resource
	versions  []memVersion
	roles     map[string][]model.Role
	plugins   map[string][]model.PluginInstallation
	topics    map[string][]model.Topic
	svcTopics map[string][]model.ServiceTopics
	settings  map[string]model.ServiceSettings
	builds    map[string]model.Build
	bindings  map[string][]string
	steps     []model.ActionStep
	logs      []model.ActionLog
}

type memVersion struct {
	resourceID string
	entity     model.Entity
}

func NewMem() *Mem {
	return &Mem{
		users:     map[string]model.User{},
		projects:  map[string]model.Project{},
		resources: map[string]model.Resource{},
		roles:     map[string][]model.Role{},
		plugins:   map[string][]model.PluginInstallation{},
		topics:    map[string][]model.Topic{},
		svcTopics: map[string][]model.ServiceTopics{},
		settings:  map[string]model.ServiceSettings{},
		builds:    map[string]model.Build{},
		bindings:  map[string][]string{},
	}
}

func (m *Mem) Healthy(context.Context) error { return nil }

// Seeding

func (m *Mem) PutUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Mem) PutProject(p model.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *Mem) PutResource(r model.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.resources[r.ID] = r
}

// PutEntityVersion stores one version of an entity owned by resourceID.
func (m *Mem) PutEntityVersion(resourceID string, e model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, memVersion{resourceID: resourceID, entity: e})
}

func (m *Mem) PutRole(resourceID string, r model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[resourceID] = append(m.roles[resourceID], r)
}

func (m *Mem) PutPluginInstallation(resourceID string, p model.PluginInstallation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[resourceID] = append(m.plugins[resourceID], p)
}

func (m *Mem) PutTopic(resourceID string, t model.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[resourceID] = append(m.topics[resourceID], t)
}

func (m *Mem) PutServiceTopics(resourceID string, st model.ServiceTopics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.svcTopics[resourceID] = append(m.svcTopics[resourceID], st)
}

func (m *Mem) PutServiceSettings(resourceID string, s model.ServiceSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[resourceID] = s
}

// Resources

func (m *Mem) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Mem) GetProject(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Mem) GetResource(_ context.Context, id string) (*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Mem) ListProjectResources(_ context.Context, projectID string) ([]model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Resource
	for _, r := range m.resources {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Mem) LatestEntityVersions(_ context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]model.Entity{}
	for _, v := range m.versions {
		if m.resources[v.resourceID].ProjectID != projectID {
			continue
		}
		cur, ok := latest[v.entity.ID]
		if !ok || v.entity.VersionNumber > cur.VersionNumber {
			latest[v.entity.ID] = v.entity
		}
	}
	ids := make([]string, 0, len(latest))
	for _, e := range latest {
		ids = append(ids, e.VersionID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Mem) BuildEntities(_ context.Context, buildID, resourceID string) ([]model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bound := map[string]bool{}
	for _, id := range m.bindings[buildID] {
		bound[id] = true
	}
	var out []model.Entity
	for _, v := range m.versions {
		if v.resourceID == resourceID && bound[v.entity.VersionID] {
			out = append(out, v.entity)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Mem) ListRoles(_ context.Context, resourceID string) ([]model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Role(nil), m.roles[resourceID]...), nil
}

func (m *Mem) ListPluginInstallations(_ context.Context, resourceID string) ([]model.PluginInstallation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PluginInstallation(nil), m.plugins[resourceID]...), nil
}

func (m *Mem) ListTopics(_ context.Context, resourceID string) ([]model.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Topic(nil), m.topics[resourceID]...), nil
}

func (m *Mem) ListServiceTopics(_ context.Context, resourceID string) ([]model.ServiceTopics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ServiceTopics(nil), m.svcTopics[resourceID]...), nil
}

func (m *Mem) GetServiceSettings(_ context.Context, resourceID string) (model.ServiceSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[resourceID], nil
}

// Builds

func (m *Mem) CreateBuild(_ context.Context, b *model.Build, step *model.ActionStep, logs []model.ActionLog, entityVersionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds[b.ID] = *b
	if step != nil {
		m.steps = append(m.steps, *step)
	}
	m.logs = append(m.logs, logs...)
	m.bindings[b.ID] = append([]string(nil), entityVersionIDs...)
	return nil
}

func (m *Mem) GetBuild(_ context.Context, id string) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *Mem) ListBuilds(_ context.Context, resourceID string, limit int) ([]model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []model.Build
	for _, b := range m.builds {
		if resourceID == "" || b.ResourceID == resourceID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mem) CanUserAccessBuild(_ context.Context, userID, buildID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[buildID]
	if !ok {
		return false, nil
	}
	owner, ok1 := m.users[b.UserID]
	u, ok2 := m.users[userID]
	return ok1 && ok2 && owner.WorkspaceID == u.WorkspaceID, nil
}

// Steps

func (m *Mem) EnsureStep(_ context.Context, step *model.ActionStep) (*model.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.ActionID == step.ActionID && s.Name == step.Name {
			return &s, nil
		}
	}
	m.steps = append(m.steps, *step)
	s := *step
	return &s, nil
}

func (m *Mem) StepByName(_ context.Context, actionID, name string) (*model.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.ActionID == actionID && s.Name == name {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Mem) GetStep(_ context.Context, id string) (*model.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.stepIndex(id); i >= 0 {
		s := m.steps[i]
		return &s, nil
	}
	return nil, ErrNotFound
}

func (m *Mem) StartStep(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.stepIndex(id)
	if i < 0 || m.steps[i].Status != model.StepWaiting {
		return false, nil
	}
	m.steps[i].Status = model.StepRunning
	return true, nil
}

func (m *Mem) CompleteStep(_ context.Context, id string, status model.StepStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.stepIndex(id)
	if i < 0 || m.steps[i].Status.IsTerminal() {
		return false, nil
	}
	m.steps[i].Status = status
	m.steps[i].CompletedAt = &at
	return true, nil
}

func (m *Mem) AppendLog(_ context.Context, l *model.ActionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepIndex(l.StepID) < 0 {
		return ErrNotFound
	}
	m.logs = append(m.logs, *l)
	return nil
}

func (m *Mem) ListSteps(_ context.Context, actionID string) ([]model.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ActionStep
	index := map[string]int{}
	for _, s := range m.steps {
		if s.ActionID == actionID {
			s.Logs = nil
			index[s.ID] = len(out)
			out = append(out, s)
		}
	}
	for _, l := range m.logs {
		if i, ok := index[l.StepID]; ok {
			out[i].Logs = append(out[i].Logs, l)
		}
	}
	return out, nil
}

func (m *Mem) stepIndex(id string) int {
	for i, s := range m.steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}
