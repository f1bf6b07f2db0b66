// Package planhttp exposes the classifier, namer and planner as a JSON API
// for bundler plugins that cannot link Go code.
package planhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/plan"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ruleset"
)

// DefaultMaxItems bounds the entries accepted in one request.
const DefaultMaxItems = 100_000

// SetProvider returns the active rule set.
type SetProvider interface {
	Get() (*ruleset.Set, bool)
}

// Recorder is implemented by the metrics package.
type Recorder interface {
	ObserveClassification(kind, chunk string)
	ObserveName(class string)
}

type API struct {
	sets     SetProvider
	metrics  Recorder
	logger   log.Logger
	maxItems int
}

type Option func(*API)

func WithMetrics(m Recorder) Option { return func(a *API) { a.metrics = m } }

func WithMaxItems(n int) Option { return func(a *API) { a.maxItems = n } }

func NewAPI(sets SetProvider, logger log.Logger, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	a := &API{sets: sets, logger: logger, maxItems: DefaultMaxItems}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(httpmw.Scope("classify")).Post("/classify", api.HandleClassify)
		r.With(httpmw.Scope("name")).Post("/name", api.HandleName)
		r.With(httpmw.Scope("sanitize")).Post("/sanitize", api.HandleSanitize)
		r.With(httpmw.Scope("plan")).Post("/plan", api.HandlePlan)
		r.With(httpmw.Scope("ruleset")).Get("/ruleset", api.HandleRuleset)
	})
}

func (api *API) HandleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ClassifyRequest
	if !api.decode(w, r, &req) || !api.checkCount(w, r, len(req.Modules)) {
		return
	}
	s, ok := api.active(w, r)
	if !ok {
		return
	}

	resp := ClassifyResponse{Decisions: make([]ModuleDecision, 0, len(req.Modules))}
	for _, id := range req.Modules {
		d := s.Classify(id)
		api.observeClassification(d.Kind.String(), d.Chunk)
		resp.Decisions = append(resp.Decisions, ModuleDecision{Module: id, Chunk: d.Chunk, Rule: d.Rule, Kind: d.Kind})
	}
	log.FromContext(ctx).Debug(ctx, "classified modules", "count", len(req.Modules))
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) HandleName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req NameRequest
	if !api.decode(w, r, &req) || !api.checkCount(w, r, len(req.Files)) {
		return
	}
	s, ok := api.active(w, r)
	if !ok {
		return
	}

	resp := NameResponse{Files: make([]FileName, 0, len(req.Files))}
	for _, f := range req.Files {
		resp.Files = append(resp.Files, api.name(s.Namer, f))
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleSanitize does not need a rule set.
func (api *API) HandleSanitize(w http.ResponseWriter, r *http.Request) {
	var req SanitizeRequest
	if !api.decode(w, r, &req) || !api.checkCount(w, r, len(req.Names)) {
		return
	}
	resp := SanitizeResponse{Tokens: make([]string, 0, len(req.Names))}
	for _, n := range req.Names {
		resp.Tokens = append(resp.Tokens, assetname.Sanitize(n))
	}
	api.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (api *API) HandlePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var m plan.Manifest
	if !api.decode(w, r, &m) || !api.checkCount(w, r, len(m.Modules)+len(m.Files)) {
		return
	}
	s, ok := api.active(w, r)
	if !ok {
		return
	}

	p := plan.Build(s, m)
	for _, g := range p.Chunks {
		for range g.Modules {
			api.observeClassification(g.Kind.String(), g.Name)
		}
	}
	for range p.Deferred {
		api.observeClassification(chunk.KindDeferred.String(), "")
	}
	for _, f := range p.Files {
		api.observeName(f.Class.String())
	}

	log.FromContext(ctx).Info(ctx, "built plan",
		"modules", p.Summary.Modules,
		"chunks", p.Summary.ChunkCount,
		"deferred", p.Summary.Deferred,
		"files", p.Summary.Files,
		"warnings", len(p.Warnings),
	)
	api.writeJSON(ctx, w, http.StatusOK, p)
}

func (api *API) HandleRuleset(w http.ResponseWriter, r *http.Request) {
	s, ok := api.active(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "toml" {
		data, err := s.Document.Encode()
		if err != nil {
			api.writeError(r.Context(), w, http.StatusInternalServerError, "could not encode rule set")
			return
		}
		w.Header().Set("Content-Type", "application/toml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	rules := s.Classifier.Rules()
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name())
	}
	api.writeJSON(r.Context(), w, http.StatusOK, RulesetResponse{Meta: s.Meta, Document: s.Document, Rules: names})
}

func (api *API) name(n *assetname.Namer, f assetname.EmittedFile) FileName {
	p := n.Name(f)
	class := n.ClassOfFile(f)
	api.observeName(class.String())
	return FileName{Path: p, Class: class, CacheControl: n.CacheControl(p)}
}

func (api *API) active(w http.ResponseWriter, r *http.Request) (*ruleset.Set, bool) {
	if api.sets != nil {
		if s, ok := api.sets.Get(); ok {
			return s, true
		}
	}
	api.writeError(r.Context(), w, http.StatusServiceUnavailable, "no rule set loaded")
	return nil, false
}

func (api *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		api.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	log.FromContext(r.Context()).Debug(r.Context(), "rejected malformed request", "error", err)
	api.writeError(r.Context(), w, http.StatusBadRequest, "malformed JSON: "+err.Error())
	return false
}

func (api *API) checkCount(w http.ResponseWriter, r *http.Request, n int) bool {
	if api.maxItems > 0 && n > api.maxItems {
		api.writeError(r.Context(), w, http.StatusBadRequest, fmt.Sprintf("too many items: %d, limit is %d", n, api.maxItems))
		return false
	}
	return true
}

func (api *API) observeClassification(kind, chunkName string) {
	if api.metrics != nil {
		api.metrics.ObserveClassification(kind, chunkName)
	}
}

func (api *API) observeName(class string) {
	if api.metrics != nil {
		api.metrics.ObserveName(class)
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	api.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
