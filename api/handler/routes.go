package handler

import "github.com/go-chi/chi/v5"

// Mount registers the build API and the worker callbacks on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Post("/builds", h.CreateBuild)
		r.Get("/builds", h.ListBuilds)
		r.Route("/builds/{id}", func(r chi.Router) {
			r.Use(ValidateBuildID)
			r.Get("/", h.GetBuild)
			r.Get("/log", h.BuildLog)
			r.Get("/access", h.BuildAccess)
		})

		r.Get("/debug/queries", h.Queries)
		r.Get("/debug/jobs", h.Jobs)
	})

	r.Route("/build-runner", func(r chi.Router) {
		r.Post("/code-generation-success", h.CodeGenerationSuccess)
		r.Post("/code-generation-failure", h.CodeGenerationFailure)
		r.Post("/code-generation-log", h.CodeGenerationLog)
	})
}
