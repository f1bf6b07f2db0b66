package ruleset

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cryptoutil"
)

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleTOML), WithCacheSize(8))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Meta.SHA256 != cryptoutil.SHA256Hex([]byte(sampleTOML)) {
		t.Fatalf("SHA256 = %s", s.Meta.SHA256)
	}
	if s.Meta.Version != "2024.06.1" || s.Meta.Source != SourceUnknown || s.Meta.LoadedAt.IsZero() {
		t.Fatalf("meta = %+v", s.Meta)
	}

	tests := []struct {
		id   string
		want chunk.Decision
	}{
		{"/p/node_modules/react-dom/client.js", chunk.Decision{Chunk: "framework-core", Rule: "framework", Kind: chunk.KindFamily}},
		{"/p/node_modules/d3-scale/index.js", chunk.Decision{Chunk: "charts", Rule: "charts", Kind: chunk.KindFamily}},
		{"/p/node_modules/@mui/material/index.js", chunk.Decision{Chunk: "lib-mui-material", Rule: "per-package", Kind: chunk.KindVendor}},
		{"/p/node_modules/@internal/tools/index.js", chunk.Decision{}},
		{"/p/node_modules/.vite/deps/x.js", chunk.Decision{}},
		{"/p/src/main.ts", chunk.Decision{}},
	}
	for _, tt := range tests {
		if got := s.Classify(tt.id); got != tt.want {
			t.Errorf("Classify(%q) = %+v, want %+v", tt.id, got, tt.want)
		}
	}

	got := s.Name(assetname.EmittedFile{Name: "index", Ext: ".js", Role: assetname.RoleEntry, Hash: "a1"})
	if got != "static/js/index.a1.js" {
		t.Fatalf("Name = %q", got)
	}
}

func TestParse_InvalidDocument(t *testing.T) {
	_, err := Parse([]byte("[layout]\nfile_template = \"[name][extname]\"\n"))
	if err == nil || !strings.Contains(err.Error(), "[hash]") {
		t.Fatalf("err = %v, want template error", err)
	}
}

func TestParse_VendorDisabled(t *testing.T) {
	s, err := Parse([]byte("[vendor]\ndisabled = true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d := s.Classify("/p/node_modules/lodash/map.js"); d.Kind != chunk.KindDeferred {
		t.Fatalf("vendor disabled should defer, got %+v", d)
	}
}

func TestDefault(t *testing.T) {
	s := Default(WithCacheSize(2))
	if s.Meta.Source != SourceBuiltin || s.Meta.Version != "builtin" || !cryptoutil.IsSHA256Hex(s.Meta.SHA256) {
		t.Fatalf("meta = %+v", s.Meta)
	}
	if Default().Meta.SHA256 != s.Meta.SHA256 {
		t.Fatal("builtin hash should be stable")
	}
}

func TestSet_DecisionCacheConcurrent(t *testing.T) {
	s := Default(WithCacheSize(16))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if d := s.Classify("/a/node_modules/lodash/map.js"); d.Chunk != "vendor-lodash" {
					t.Errorf("Classify = %+v", d)
					return
				}
			}
		}()
	}
	wg.Wait()
	if n := s.CachedDecisions(); n != 1 {
		t.Fatalf("cached = %d, want 1", n)
	}
}

func TestSet_Nil(t *testing.T) {
	var s *Set
	if d := s.Classify("/x/node_modules/react/index.js"); d.Kind != chunk.KindDeferred {
		t.Fatalf("nil set Classify = %+v", d)
	}
	if got := s.Name(assetname.EmittedFile{Name: "a", Ext: ".js", Role: assetname.RoleChunk, Hash: "h"}); got != "assets/js/a-h.js" {
		t.Fatalf("nil set Name = %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "rules.toml")
	if err := os.WriteFile(p, []byte(sampleTOML), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Meta.Source != SourceFile || !filepath.IsAbs(s.Meta.Origin) {
		t.Fatalf("meta = %+v", s.Meta)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatal("missing file should error")
	}
	if _, err := LoadFile(dir); err == nil {
		t.Fatal("directory should error")
	}

	big := filepath.Join(dir, "big.toml")
	if err := os.WriteFile(big, make([]byte, maxDocumentBytes+1), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(big); err == nil {
		t.Fatal("oversized file should error")
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	if err := m.ReadyErr(); err == nil {
		t.Fatal("empty manager should not be ready")
	}
	if m.RulesetVersion() != "" || m.RulesetHash() != "" || m.Source() != SourceUnknown || !m.LoadedAt().IsZero() {
		t.Fatal("empty manager should report zero values")
	}

	s := Default()
	m.Set(s)
	m.Set(nil)
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr: %v", err)
	}
	got, ok := m.Get()
	if !ok || got != s {
		t.Fatal("Get should return the stored set")
	}
	if m.RulesetVersion() != "builtin" || m.RulesetHash() != s.Meta.SHA256 || m.Source() != SourceBuiltin {
		t.Fatalf("manager info = %s %s %s", m.RulesetVersion(), m.RulesetHash(), m.Source())
	}
}
