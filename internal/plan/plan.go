// Package plan runs a whole build manifest through a rule set: every module
// id is classified and every emitted file is named, producing the chunk
// groups and output paths a bundler needs in one call.
package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ruleset"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// Manifest is what a bundler knows after module resolution and emission.
type Manifest struct {
	Modules []string                `json:"modules"`
	Files   []assetname.EmittedFile `json:"files"`
}

// DecodeManifest reads a JSON manifest. Unknown fields are ignored so
// bundler plugins can send extra context.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, xerrors.Wrap(err, "decode manifest")
	}
	return m, nil
}

type ChunkGroup struct {
	Name    string     `json:"name"`
	Kind    chunk.Kind `json:"kind"`
	Rule    string     `json:"rule"`
	Modules []string   `json:"modules"`
}

type NamedFile struct {
	Source       assetname.EmittedFile `json:"source"`
	Path         string                `json:"path"`
	Class        assetname.Class       `json:"class"`
	CacheControl string                `json:"cache_control"`
}

type Summary struct {
	Modules      int            `json:"modules"`
	ChunkCount   int            `json:"chunk_count"`
	FamilyChunks int            `json:"family_chunks"`
	VendorChunks int            `json:"vendor_chunks"`
	Deferred     int            `json:"deferred"`
	Files        int            `json:"files"`
	FilesByClass map[string]int `json:"files_by_class"`
}

type Plan struct {
	Ruleset  ruleset.Meta `json:"ruleset"`
	Chunks   []ChunkGroup `json:"chunks"`
	Deferred []string     `json:"deferred"`
	Files    []NamedFile  `json:"files"`
	Summary  Summary      `json:"summary"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Build classifies and names everything in m with s. Duplicate module ids
// are counted once. Output is deterministic: chunks sorted by name, members
// and deferred ids sorted, files in manifest order.
func Build(s *ruleset.Set, m Manifest) Plan {
	p := Plan{
		Chunks:   []ChunkGroup{},
		Deferred: []string{},
		Files:    make([]NamedFile, 0, len(m.Files)),
		Summary:  Summary{FilesByClass: map[string]int{}},
	}
	if s != nil {
		p.Ruleset = s.Meta
	}

	groups := map[string]*ChunkGroup{}
	seen := make(map[string]struct{}, len(m.Modules))
	for _, id := range m.Modules {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		d := s.Classify(id)
		if !d.OK() {
			p.Deferred = append(p.Deferred, id)
			continue
		}
		g, ok := groups[d.Chunk]
		if !ok {
			g = &ChunkGroup{Name: d.Chunk, Kind: d.Kind, Rule: d.Rule}
			groups[d.Chunk] = g
		}
		g.Modules = append(g.Modules, id)
	}

	for _, g := range groups {
		sort.Strings(g.Modules)
		p.Chunks = append(p.Chunks, *g)
		switch g.Kind {
		case chunk.KindFamily:
			p.Summary.FamilyChunks++
		case chunk.KindVendor:
			p.Summary.VendorChunks++
		}
	}
	sort.Slice(p.Chunks, func(i, j int) bool { return p.Chunks[i].Name < p.Chunks[j].Name })
	sort.Strings(p.Deferred)

	namer := assetname.Default()
	if s != nil {
		namer = s.Namer
	}
	owners := make(map[string]int, len(m.Files))
	for i, f := range m.Files {
		path := namer.Name(f)
		class := namer.ClassOfFile(f)
		p.Files = append(p.Files, NamedFile{
			Source:       f,
			Path:         path,
			Class:        class,
			CacheControl: namer.CacheControl(path),
		})
		p.Summary.FilesByClass[class.String()]++
		if prev, clash := owners[path]; clash {
			p.Warnings = append(p.Warnings, fmt.Sprintf("files #%d and #%d both write %s", prev+1, i+1, path))
			continue
		}
		owners[path] = i
	}

	p.Summary.Modules = len(seen)
	p.Summary.ChunkCount = len(p.Chunks)
	p.Summary.Deferred = len(p.Deferred)
	p.Summary.Files = len(p.Files)
	return p
}

// CheckChunkLimit appends a warning when the plan splits into more than
// limit chunks. A limit <= 0 disables the check.
func (p *Plan) CheckChunkLimit(limit int) bool {
	if limit <= 0 || p.Summary.ChunkCount <= limit {
		return false
	}
	p.Warnings = append(p.Warnings, fmt.Sprintf(
		"plan has %d chunks, over the limit of %d; consider grouping vendor packages into families",
		p.Summary.ChunkCount, limit))
	return true
}
