package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Reporter posts job progress back to the build manager.
type Reporter struct {
	BaseURL string
	Client  *http.Client
}

func NewReporter(baseURL string) *Reporter {
	return &Reporter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Reporter) Success(ctx context.Context, job Job) error {
	return r.post(ctx, "/build-runner/code-generation-success", job.CallbackToken, map[string]string{
		"resourceId": job.ResourceID,
		"buildId":    job.BuildID,
	})
}

func (r *Reporter) Failure(ctx context.Context, job Job, stage string, cause error) error {
	return r.post(ctx, "/build-runner/code-generation-failure", job.CallbackToken, map[string]string{
		"resourceId": job.ResourceID,
		"buildId":    job.BuildID,
		"stage":      stage,
		"message":    cause.Error(),
	})
}

func (r *Reporter) Log(ctx context.Context, job Job, level, stage, message string) error {
	return r.post(ctx, "/build-runner/code-generation-log", job.CallbackToken, map[string]string{
		"buildId": job.BuildID,
		"level":   level,
		"stage":   stage,
		"message": message,
	})
}

func (r *Reporter) post(ctx context.Context, path, token string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", r.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("post %s: %s: %s", path, resp.Status, e.Error)
	}
	return nil
}
