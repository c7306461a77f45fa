package model

// ResourceInfo identifies the resource being generated.
type ResourceInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	URL         string          `json:"url"`
	Settings    ServiceSettings `json:"settings,omitempty"`
}

// DSGResourceData is the self-contained input of one generation job.
// OtherResources is populated only at the root; siblings never carry their own.
type DSGResourceData struct {
	Entities            []Entity             `json:"entities"`
	Roles               []Role               `json:"roles"`
	PluginInstallations []PluginInstallation `json:"pluginInstallations"`
	ResourceType        ResourceType         `json:"resourceType"`
	Topics              []Topic              `json:"topics"`
	ServiceTopics       []ServiceTopics      `json:"serviceTopics"`
	ResourceInfo        ResourceInfo         `json:"resourceInfo"`
	OtherResources      []DSGResourceData    `json:"otherResources,omitempty"`
}

// JobRecord is what the dispatcher persists for the worker and the reconciler.
// GenerationBase is the commit the generation branch pointed at before the
// worker ran.
type JobRecord struct {
	DSGResourceData
	CurrentBranch  string `json:"currentBranch"`
	GenerationBase string `json:"generationBase,omitempty"`
}
