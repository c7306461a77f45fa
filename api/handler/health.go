package handler

import (
	"context"
	"net/http"
	"time"
)

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make([]ServiceHealth, 0, len(h.checks))
	status := "healthy"
	for _, c := range h.checks {
		s := ServiceHealth{Name: c.Name, Status: "up"}
		if err := c.Fn(ctx); err != nil {
			s.Status, s.Details = "down", err.Error()
			status = "degraded"
		}
		services = append(services, s)
	}

	writeJSON(w, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
