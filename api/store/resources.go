package store

import (
	"context"
	"encoding/json"

	"scaffold/api/model"
)

func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.Pool.QueryRow(ctx, `SELECT id, email, workspace_id FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.WorkspaceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (db *DB) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := db.Pool.QueryRow(ctx, `SELECT id, name, base_directory FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.BaseDirectory)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const resourceColumns = `id, project_id, name, description, resource_type, created_at`

func (db *DB) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	var r model.Resource
	err := db.Pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&r.ID, &r.ProjectID, &r.Name, &r.Description, &r.Type, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (db *DB) ListProjectResources(ctx context.Context, projectID string) ([]model.Resource, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE project_id = $1 AND deleted_at IS NULL ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var r model.Resource
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Description, &r.Type, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestEntityVersions returns the highest version of every live entity in the project.
func (db *DB) LatestEntityVersions(ctx context.Context, projectID string) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT DISTINCT ON (ev.entity_id) ev.id
		 FROM entity_versions ev
		 JOIN entities e ON e.id = ev.entity_id
		 JOIN resources r ON r.id = e.resource_id
		 WHERE r.project_id = $1 AND e.deleted_at IS NULL AND r.deleted_at IS NULL
		 ORDER BY ev.entity_id, ev.version_number DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BuildEntities returns the resource's entities at the versions bound to the build,
// in entity creation order.
func (db *DB) BuildEntities(ctx context.Context, buildID, resourceID string) ([]model.Entity, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT e.id, ev.id, ev.version_number, ev.name, ev.display_name, ev.plural_display_name,
		        ev.description, ev.fields, ev.permissions, e.created_at
		 FROM build_entity_versions b
		 JOIN entity_versions ev ON ev.id = b.entity_version_id
		 JOIN entities e ON e.id = ev.entity_id
		 WHERE b.build_id = $1 AND e.resource_id = $2
		 ORDER BY e.created_at ASC, e.id ASC`, buildID, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var fields, perms []byte
		if err := rows.Scan(&e.ID, &e.VersionID, &e.VersionNumber, &e.Name, &e.DisplayName, &e.PluralDisplayName,
			&e.Description, &fields, &perms, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fields, &e.Fields); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(perms, &e.Permissions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) ListRoles(ctx context.Context, resourceID string) ([]model.Role, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, name, display_name, description FROM roles WHERE resource_id = $1 ORDER BY name`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPluginInstallations returns every installation, enabled or not.
func (db *DB) ListPluginInstallations(ctx context.Context, resourceID string) ([]model.PluginInstallation, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, plugin_id, npm, version, enabled, settings FROM plugin_installations
		 WHERE resource_id = $1 ORDER BY created_at, id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PluginInstallation
	for rows.Next() {
		var p model.PluginInstallation
		var settings []byte
		if err := rows.Scan(&p.ID, &p.PluginID, &p.NPM, &p.Version, &p.Enabled, &settings); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			p.Settings = settings
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) ListTopics(ctx context.Context, resourceID string) ([]model.Topic, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, name, display_name, description FROM topics WHERE resource_id = $1 ORDER BY name`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) ListServiceTopics(ctx context.Context, resourceID string) ([]model.ServiceTopics, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, message_broker_id, enabled, patterns FROM service_topics WHERE resource_id = $1 ORDER BY id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ServiceTopics
	for rows.Next() {
		var st model.ServiceTopics
		var patterns []byte
		if err := rows.Scan(&st.ID, &st.MessageBrokerID, &st.Enabled, &patterns); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(patterns, &st.Patterns); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetServiceSettings returns nil settings when none are stored.
func (db *DB) GetServiceSettings(ctx context.Context, resourceID string) (model.ServiceSettings, error) {
	var settings []byte
	err := db.Pool.QueryRow(ctx, `SELECT settings FROM service_settings WHERE resource_id = $1`, resourceID).Scan(&settings)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.ServiceSettings(settings), nil
}
