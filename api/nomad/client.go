package nomad

import (
	"fmt"

	nomadapi "github.com/hashicorp/nomad/api"
)

type Client struct {
	api *nomadapi.Client
}

func NewClient(addr string) (*Client, error) {
	cfg := nomadapi.DefaultConfig()
	cfg.Address = addr

	client, err := nomadapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("nomad client: %w", err)
	}
	return &Client{api: client}, nil
}

// Healthy checks connectivity to Nomad.
func (c *Client) Healthy() error {
	_, err := c.api.Agent().NodeName()
	return err
}

// DispatchJob starts an instance of a parameterized job and returns the id
// of the dispatched child job.
func (c *Client) DispatchJob(jobID string, meta map[string]string) (string, error) {
	resp, _, err := c.api.Jobs().Dispatch(jobID, meta, nil, "", nil)
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", jobID, err)
	}
	return resp.DispatchedJobID, nil
}

// JobStatus returns the status of a Nomad job.
func (c *Client) JobStatus(jobID string) (string, error) {
	job, _, err := c.api.Jobs().Info(jobID, nil)
	if err != nil {
		return "", err
	}
	if job.Status == nil {
		return "unknown", nil
	}
	return *job.Status, nil
}
