package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthzHandler answers 200 "ok" when p passes and 503 with the reason
// otherwise. A nil probe always passes.
func HealthzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ok\n") }

// ReadyzHandler is HealthzHandler with a "ready" body.
func ReadyzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ready\n") }

func probeHandler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}

// API mounts /-/ping, /-/healthy and /-/ready on the public router so load
// balancers can probe the API listener directly.
type API struct {
	Liveness  Probe
	Readiness Probe
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/-/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Get("/-/healthy", HealthzHandler(a.Liveness))
	r.Get("/-/ready", ReadyzHandler(a.Readiness))
}
