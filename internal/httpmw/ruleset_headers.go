package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	RulesetVersionHeader = "X-Chunkplan-Ruleset-Version"
	RulesetHashHeader    = "X-Chunkplan-Ruleset-Hash"
	shortHashLen         = 12
)

// RulesetInfo reports the rule set that will answer the request.
type RulesetInfo interface {
	RulesetVersion() string
	RulesetHash() string
}

// RulesetHeaders stamps every response with the active rule-set version and
// a short hash, so a bundler can record which rules produced its plan.
func RulesetHeaders(info RulesetInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				v, h := info.RulesetVersion(), info.RulesetHash()
				if v != "" {
					w.Header().Set(RulesetVersionHeader, v)
				}
				if h != "" {
					short := h
					if len(short) > shortHashLen {
						short = short[:shortHashLen]
					}
					w.Header().Set(RulesetHashHeader, short)
				}
				if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
					span.SetAttributes(
						attribute.String("chunkplan.ruleset.version", v),
						attribute.String("chunkplan.ruleset.sha256", h),
					)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
