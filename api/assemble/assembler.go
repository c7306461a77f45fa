package assemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"scaffold/api/model"
	"scaffold/api/store"
)

var ErrResourceNotFound = errors.New("resource not found")

// Source is the read side of the resource model.
type Source interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	ListProjectResources(ctx context.Context, projectID string) ([]model.Resource, error)
	BuildEntities(ctx context.Context, buildID, resourceID string) ([]model.Entity, error)
	ListRoles(ctx context.Context, resourceID string) ([]model.Role, error)
	ListPluginInstallations(ctx context.Context, resourceID string) ([]model.PluginInstallation, error)
	ListTopics(ctx context.Context, resourceID string) ([]model.Topic, error)
	ListServiceTopics(ctx context.Context, resourceID string) ([]model.ServiceTopics, error)
	GetServiceSettings(ctx context.Context, resourceID string) (model.ServiceSettings, error)
}

// Assembler builds the generation input for a resource at a build.
type Assembler struct {
	src  Source
	host string
}

// New returns an Assembler. host is the public base URL; a resource's
// callback URL is host/resourceId.
func New(src Source, host string) *Assembler {
	return &Assembler{src: src, host: strings.TrimRight(host, "/")}
}

// Assemble returns the DSGResourceData for resourceID bound to buildID.
// With rootGeneration every other resource of the project is assembled as a
// sibling; siblings are assembled without rootGeneration so the nesting never
// goes deeper than one level. Any lookup failure fails the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, resourceID, buildID, buildVersion string, user *model.User, rootGeneration bool) (*model.DSGResourceData, error) {
	resource, err := a.src.GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", resourceID, err)
	}

	entities, err := a.src.BuildEntities(ctx, buildID, resourceID)
	if err != nil {
		return nil, fmt.Errorf("entities of %s: %w", resourceID, err)
	}
	sortEntities(entities)

	roles, err := a.src.ListRoles(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("roles of %s: %w", resourceID, err)
	}

	installed, err := a.src.ListPluginInstallations(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("plugins of %s: %w", resourceID, err)
	}
	plugins := enabledPlugins(installed)

	topics, err := a.src.ListTopics(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("topics of %s: %w", resourceID, err)
	}

	serviceTopics, err := a.src.ListServiceTopics(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("service topics of %s: %w", resourceID, err)
	}

	var settings model.ServiceSettings
	if resource.Type == model.ResourceService {
		settings, err = a.src.GetServiceSettings(ctx, resourceID)
		if err != nil {
			return nil, fmt.Errorf("service settings of %s: %w", resourceID, err)
		}
	}

	data := &model.DSGResourceData{
		Entities:            nonNil(entities),
		Roles:               nonNil(roles),
		PluginInstallations: nonNil(plugins),
		ResourceType:        resource.Type,
		Topics:              nonNil(topics),
		ServiceTopics:       nonNil(serviceTopics),
		ResourceInfo: model.ResourceInfo{
			ID:          resource.ID,
			Name:        resource.Name,
			Description: resource.Description,
			Version:     buildVersion,
			URL:         a.host + "/" + resource.ID,
			Settings:    settings,
		},
	}

	if !rootGeneration {
		return data, nil
	}

	siblings, err := a.src.ListProjectResources(ctx, resource.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project resources of %s: %w", resource.ProjectID, err)
	}
	data.OtherResources = []model.DSGResourceData{}
	for _, sib := range siblings {
		if sib.ID == resource.ID {
			continue
		}
		other, err := a.Assemble(ctx, sib.ID, buildID, buildVersion, user, false)
		if err != nil {
			return nil, err
		}
		data.OtherResources = append(data.OtherResources, *other)
	}
	return data, nil
}

// sortEntities orders by creation time, then id. Generated file order follows
// this, so it must not depend on how the source returned the rows.
func sortEntities(entities []model.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if !entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].CreatedAt.Before(entities[j].CreatedAt)
		}
		return entities[i].ID < entities[j].ID
	})
}

func enabledPlugins(in []model.PluginInstallation) []model.PluginInstallation {
	var out []model.PluginInstallation
	for _, p := range in {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
