package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"scaffold/api/model"
	"scaffold/worker/plugins"
	"scaffold/worker/render"
)

// Job is one generation request from the build manager.
type Job struct {
	ResourceID    string `json:"resourceId"`
	BuildID       string `json:"buildId"`
	SpecPath      string `json:"specPath"`
	OutputPath    string `json:"outputPath"`
	CallbackToken string `json:"callbackToken,omitempty"`
}

const (
	StageLoadSpec       = "load-spec"
	StageInstallPlugins = "install-plugins"
	StageRender         = "render"
	StageWrite          = "write-modules"
)

// Runner executes generation jobs and reports the outcome.
type Runner struct {
	Specs     *SpecLoader
	Installer *plugins.Installer
	Renderer  render.Renderer
	Reporter  *Reporter
	Logger    hclog.Logger
}

type run struct {
	job       Job
	rec       *model.JobRecord
	installed []plugins.Plugin
	modules   []render.Module
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) (string, error)
}

// Run executes the stages in order. The first failing stage is reported
// through the failure callback; otherwise the success callback fires.
func (rn *Runner) Run(ctx context.Context, job Job) error {
	log := rn.logger().With("buildId", job.BuildID, "resourceId", job.ResourceID)
	stages := []stage{
		{name: StageLoadSpec, fn: rn.loadSpec},
		{name: StageInstallPlugins, fn: rn.installPlugins},
		{name: StageRender, fn: rn.render},
		{name: StageWrite, fn: rn.write},
	}

	r := &run{job: job}
	for _, s := range stages {
		start := time.Now()
		summary, err := s.fn(ctx, r)
		if err != nil {
			log.Error("stage failed", "stage", s.name, "error", err)
			if rerr := rn.Reporter.Failure(ctx, job, s.name, err); rerr != nil {
				log.Error("report failure", "error", rerr)
			}
			return fmt.Errorf("%s: %w", s.name, err)
		}
		log.Info("stage done", "stage", s.name, "duration", time.Since(start), "summary", summary)
		if rerr := rn.Reporter.Log(ctx, job, string(model.LogInfo), s.name, summary); rerr != nil {
			log.Warn("report progress", "error", rerr)
		}
	}

	log.Info("code generation completed")
	if err := rn.Reporter.Success(ctx, job); err != nil {
		log.Error("report success", "error", err)
		return err
	}
	return nil
}

func (rn *Runner) logger() hclog.Logger {
	if rn.Logger == nil {
		return hclog.NewNullLogger()
	}
	return rn.Logger
}

func (rn *Runner) loadSpec(ctx context.Context, r *run) (string, error) {
	rec, err := rn.Specs.Load(ctx, r.job.SpecPath)
	if err != nil {
		return "", err
	}
	r.rec = rec
	return fmt.Sprintf("loaded %s with %d entities", rec.ResourceInfo.Name, len(rec.Entities)), nil
}

func (rn *Runner) installPlugins(_ context.Context, r *run) (string, error) {
	all := plugins.WithDefaults(r.rec.PluginInstallations)
	installed, err := rn.Installer.Install(all)
	if err != nil {
		return "", err
	}
	r.installed = installed
	names := make([]string, 0, len(installed))
	for _, p := range installed {
		names = append(names, p.PluginID)
	}
	return "plugins: " + strings.Join(names, ", "), nil
}

func (rn *Runner) render(ctx context.Context, r *run) (string, error) {
	modules, err := rn.Renderer.Render(ctx, &r.rec.DSGResourceData, r.installed)
	if err != nil {
		return "", err
	}
	r.modules = modules
	return fmt.Sprintf("rendered %d modules", len(modules)), nil
}

func (rn *Runner) write(_ context.Context, r *run) (string, error) {
	if err := WriteModules(r.modules, r.job.OutputPath); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d modules to %s", len(r.modules), r.job.OutputPath), nil
}

// WriteModules writes each module under dest, creating directories as needed.
// Modules whose path would leave dest are rejected before anything is written.
func WriteModules(modules []render.Module, dest string) error {
	if dest == "" {
		return fmt.Errorf("no output path")
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	paths := make([]string, len(modules))
	for i, m := range modules {
		p := filepath.Join(root, filepath.FromSlash(m.Path))
		if p == root || !strings.HasPrefix(p, root+string(filepath.Separator)) {
			return fmt.Errorf("module path %q escapes %s", m.Path, dest)
		}
		paths[i] = p
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for i, m := range modules {
		if err := os.MkdirAll(filepath.Dir(paths[i]), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(paths[i], []byte(m.Code), 0o644); err != nil {
			return err
		}
	}
	return nil
}
