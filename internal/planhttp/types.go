package planhttp

import (
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ruleset"
)

type ClassifyRequest struct {
	Modules []string `json:"modules"`
}

type ModuleDecision struct {
	Module string     `json:"module"`
	Chunk  string     `json:"chunk,omitempty"`
	Rule   string     `json:"rule,omitempty"`
	Kind   chunk.Kind `json:"kind"`
}

type ClassifyResponse struct {
	Decisions []ModuleDecision `json:"decisions"`
}

type NameRequest struct {
	Files []assetname.EmittedFile `json:"files"`
}

type FileName struct {
	Path         string          `json:"path"`
	Class        assetname.Class `json:"class"`
	CacheControl string          `json:"cache_control"`
}

type NameResponse struct {
	Files []FileName `json:"files"`
}

type SanitizeRequest struct {
	Names []string `json:"names"`
}

type SanitizeResponse struct {
	Tokens []string `json:"tokens"`
}

type RulesetResponse struct {
	Meta     ruleset.Meta     `json:"meta"`
	Document ruleset.Document `json:"document"`
	Rules    []string         `json:"rules"`
}

type errorResponse struct {
	Error string `json:"error"`
}
