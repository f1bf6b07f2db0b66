package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/health"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	MaxBodyBytes int64
	Health       health.Probe
	Readiness    health.Probe
	RulesetInfo  httpmw.RulesetInfo // X-Chunkplan-Ruleset-Version / -Hash headers
	APIRoutes    func(chi.Router)
}
