package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
)

// Exec runs the worker as a one-shot local process.
type Exec struct {
	command    []string
	managerURL string
	logger     hclog.Logger
}

func NewExec(command []string, managerURL string, logger hclog.Logger) *Exec {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Exec{command: command, managerURL: managerURL, logger: logger.Named("dispatch")}
}

// Dispatch starts the process and returns without waiting for it. The
// process outlives the request context.
func (d *Exec) Dispatch(_ context.Context, req Request) error {
	if len(d.command) == 0 {
		return fmt.Errorf("no worker command configured")
	}
	cmd := exec.Command(d.command[0], d.command[1:]...)
	cmd.Env = append(os.Environ(), Env(req, d.managerURL)...)
	cmd.Stdout = d.logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	log := d.logger.With("buildId", req.BuildID, "pid", cmd.Process.Pid)
	log.Info("worker started")
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("worker exited", "error", err)
			return
		}
		log.Info("worker exited")
	}()
	return nil
}

// Env is the worker environment for a one-shot run.
func Env(req Request, managerURL string) []string {
	return []string{
		"BUILD_SPEC_PATH=" + req.SpecPath,
		"BUILD_OUTPUT_PATH=" + req.OutputPath,
		"BUILD_ID=" + req.BuildID,
		"RESOURCE_ID=" + req.ResourceID,
		"CALLBACK_TOKEN=" + req.CallbackToken,
		"BUILD_MANAGER_URL=" + managerURL,
	}
}
