package model

import (
	"encoding/json"
	"time"
)

type ResourceType string

const (
	ResourceService              ResourceType = "Service"
	ResourceProjectConfiguration ResourceType = "ProjectConfiguration"
	ResourceMessageBroker        ResourceType = "MessageBroker"
)

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	WorkspaceID string `json:"workspaceId"`
}

type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	BaseDirectory string `json:"baseDirectory,omitempty"`
}

type Resource struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"projectId"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        ResourceType `json:"resourceType"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type EntityField struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	DataType    string          `json:"dataType"`
	Required    bool            `json:"required"`
	Unique      bool            `json:"unique"`
	Searchable  bool            `json:"searchable"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	PermanentID string          `json:"permanentId,omitempty"`
	Description string          `json:"description,omitempty"`
}

type EntityPermission struct {
	Action string   `json:"action"`
	Type   string   `json:"type"`
	Roles  []string `json:"roles,omitempty"`
}

// Entity is an entity as captured by one entity version.
type Entity struct {
	ID                string             `json:"id"`
	VersionID         string             `json:"versionId"`
	VersionNumber     int                `json:"versionNumber"`
	Name              string             `json:"name"`
	DisplayName       string             `json:"displayName"`
	PluralDisplayName string             `json:"pluralDisplayName"`
	Description       string             `json:"description,omitempty"`
	Fields            []EntityField      `json:"fields"`
	Permissions       []EntityPermission `json:"permissions"`
	CreatedAt         time.Time          `json:"createdAt"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

type PluginInstallation struct {
	ID       string          `json:"id"`
	PluginID string          `json:"pluginId"`
	NPM      string          `json:"npm"`
	Version  string          `json:"version"`
	Enabled  bool            `json:"enabled"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type Topic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

type ServiceTopics struct {
	ID              string   `json:"id"`
	MessageBrokerID string   `json:"messageBrokerId"`
	Enabled         bool     `json:"enabled"`
	Patterns        []string `json:"patterns"`
}

// ServiceSettings is kept opaque; only the generator interprets it.
type ServiceSettings json.RawMessage

func (s ServiceSettings) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(s).MarshalJSON()
}

func (s *ServiceSettings) UnmarshalJSON(b []byte) error {
	*s = append((*s)[:0], b...)
	return nil
}
