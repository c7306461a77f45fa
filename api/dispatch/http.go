package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTP posts the request to a long-running worker.
type HTTP struct {
	URL    string
	Client *http.Client
}

func NewHTTP(url string) *HTTP {
	return &HTTP{
		URL:    strings.TrimRight(url, "/") + "/",
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *HTTP) Dispatch(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", d.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("dispatch to %s: %d %s", d.URL, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
