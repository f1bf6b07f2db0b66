package chunk

import "strings"

// Family sends every module under one of its marker directories to a fixed chunk.
// Markers are matched as substrings of depDir+marker, so "react/" only matches
// the react package while "react-router" also matches react-router-dom.
type Family struct {
	Label   string
	Chunk   string
	Markers []string
}

func (f *Family) Name() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Chunk
}

func (f *Family) Apply(id, depDir string) (string, bool) {
	for _, m := range f.Markers {
		if m == "" {
			continue
		}
		if strings.Contains(id, depDir+m) {
			return f.Chunk, true
		}
	}
	return "", false
}

// Chunk names used by the default rule list.
const (
	ChunkFrameworkCore = "framework-core"
	ChunkStateMgmt     = "state-mgmt"
	ChunkUILibs        = "ui-libs"
	ChunkNetwork       = "network"
	ChunkGraphics      = "graphics"
	ChunkSharedVendor  = "shared-vendor"
)

// DefaultFamilies returns the built-in dependency families in priority order.
func DefaultFamilies() []*Family {
	return []*Family{
		{
			Label: "framework",
			Chunk: ChunkFrameworkCore,
			Markers: []string{
				"react/",
				"react-dom/",
				"react-router",
				"scheduler/",
				"use-sync-external-store/",
				"@babel/",
				"regenerator-runtime/",
				"tiny-warning/",
				"loose-envify/",
			},
		},
		{
			Label:   "state",
			Chunk:   ChunkStateMgmt,
			Markers: []string{"@reduxjs/", "react-redux"},
		},
		{
			Label: "ui",
			Chunk: ChunkUILibs,
			Markers: []string{
				"framer-motion",
				"react-icons",
				"react-toastify",
				"@mui/",
				"@emotion/",
			},
		},
		{
			Label:   "network",
			Chunk:   ChunkNetwork,
			Markers: []string{"axios", "socket.io"},
		},
		{
			Label:   "graphics",
			Chunk:   ChunkGraphics,
			Markers: []string{"fabric"},
		},
		// Shadowed by "framework": both markers already route to framework-core,
		// so this never matches while framework is evaluated first. It stays as
		// the landing spot for transpiler runtime helpers if framework is ever
		// reordered or trimmed; do not fold it into framework.
		{
			Label:   "shared",
			Chunk:   ChunkSharedVendor,
			Markers: []string{"@babel/", "regenerator-runtime/"},
		},
	}
}

// Default returns the classifier the bundler config ships with.
func Default() *Classifier {
	fams := DefaultFamilies()
	rules := make([]Rule, 0, len(fams)+1)
	for _, f := range fams {
		rules = append(rules, f)
	}
	rules = append(rules, NewPerPackage(VendorPrefix, DefaultPackageFilter(), false))
	return New(DefaultDependencyDir, rules...)
}
