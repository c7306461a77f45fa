package schema

import (
	"strings"
	"testing"

	"scaffold/api/model"
)

func validRecord() *model.JobRecord {
	return &model.JobRecord{
		DSGResourceData: model.DSGResourceData{
			Entities:            []model.Entity{{ID: "e1", Name: "Customer"}},
			Roles:               []model.Role{},
			PluginInstallations: []model.PluginInstallation{{PluginID: "db-postgres", NPM: "@scaffold/plugin-db-postgres", Enabled: true}},
			ResourceType:        model.ResourceService,
			Topics:              []model.Topic{},
			ServiceTopics:       []model.ServiceTopics{},
			ResourceInfo:        model.ResourceInfo{ID: "svc", Name: "orders", Version: "89abcdef", URL: "http://localhost/svc"},
			OtherResources: []model.DSGResourceData{{
				Entities:            []model.Entity{},
				Roles:               []model.Role{},
				PluginInstallations: []model.PluginInstallation{},
				ResourceType:        model.ResourceMessageBroker,
				Topics:              []model.Topic{},
				ServiceTopics:       []model.ServiceTopics{},
				ResourceInfo:        model.ResourceInfo{ID: "broker", Name: "broker", Version: "89abcdef", URL: "http://localhost/broker"},
			}},
		},
		CurrentBranch: "main",
	}
}

func TestValidateJobRecord(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.ValidateJobRecord(validRecord()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *model.JobRecord)
		want   string
	}{
		{"no branch", func(r *model.JobRecord) { r.CurrentBranch = "" }, "currentBranch"},
		{"null entities", func(r *model.JobRecord) { r.Entities = nil }, "entities"},
		{"disabled plugin", func(r *model.JobRecord) { r.PluginInstallations[0].Enabled = false }, "enabled"},
		{"unknown type", func(r *model.JobRecord) { r.ResourceType = "Lambda" }, "resourceType"},
		{"no url", func(r *model.JobRecord) { r.ResourceInfo.URL = "" }, "url"},
		{"nested siblings", func(r *model.JobRecord) {
			r.OtherResources[0].OtherResources = []model.DSGResourceData{r.OtherResources[0]}
		}, "otherResources"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			err := v.ValidateJobRecord(rec)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
