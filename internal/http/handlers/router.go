package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
)

// NewRouter arma el mux del registry. metricsHandler viene ya registrado.
func NewRouter(d *Deps, corsOrigins []string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(httpx.WithRequestID)
	r.Use(httpx.WithAccessLog)

	r.Get("/healthz", d.Healthz)
	r.Get("/readyz", d.Readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Get("/.well-known/jwks.json", d.JWKS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/auth/start", d.AuthStart)
		r.Get("/auth/callback", d.AuthCallback)
		r.Get("/auth/logout", d.Logout)
		r.Get("/invite/accept", d.InviteAccept)
	})

	return httpx.WithCORS(r, corsOrigins)
}
