// Package assetname decides the on-disk name of every file a build emits.
//
// Scripts land in a js directory, static assets are routed by extension class
// (images, fonts, everything else), and every name carries the content hash so
// the delivery layer can cache it forever.
package assetname

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// Role is what the bundler emitted the file as.
type Role int

const (
	RoleAsset Role = iota
	RoleChunk
	RoleEntry
)

func (r Role) String() string {
	switch r {
	case RoleChunk:
		return "chunk"
	case RoleEntry:
		return "entry"
	default:
		return "asset"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRole accepts chunk, entry and asset (or static-asset), case-insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chunk":
		return RoleChunk, nil
	case "entry":
		return RoleEntry, nil
	case "asset", "static-asset", "":
		return RoleAsset, nil
	default:
		return RoleAsset, xerrors.Newf("unknown role %q (valid roles are chunk|entry|asset)", s)
	}
}

// EmittedFile describes one output file after chunk contents are final.
// Ext normally includes the leading dot (".js", ".PNG") and may be empty. A
// bare "png" is classified the same way and gains the dot in the output name.
type EmittedFile struct {
	Name string `json:"name"`
	Ext  string `json:"ext"`
	Role Role   `json:"role"`
	Hash string `json:"hash"`
}

// Namer turns emitted file descriptors into output paths.
type Namer struct {
	layout Layout
}

// New returns a Namer for the given layout. Blank layout fields take defaults.
func New(l Layout) *Namer {
	return &Namer{layout: l.withDefaults()}
}

// Default returns a Namer using DefaultLayout.
func Default() *Namer { return New(DefaultLayout()) }

// Layout returns the effective layout.
func (n *Namer) Layout() Layout { return n.layout }

// Name returns the output path for f. It never fails: unknown roles and
// missing or unrecognized extensions fall through to the generic asset dir.
func (n *Namer) Name(f EmittedFile) string {
	if n == nil {
		n = Default()
	}
	name := f.Name
	if n.layout.SanitizeNames {
		name = Sanitize(name)
	}
	return joinDir(n.dirFor(f), n.layout.render(name, f.Hash, f.Ext))
}

// ClassOfFile reports the class a file is routed by.
func (n *Namer) ClassOfFile(f EmittedFile) Class {
	if f.Role == RoleChunk || f.Role == RoleEntry {
		return ClassScript
	}
	return ClassOf(f.Ext)
}

func (n *Namer) dirFor(f EmittedFile) string {
	switch n.ClassOfFile(f) {
	case ClassScript:
		return n.layout.ScriptDir
	case ClassImage:
		return n.layout.ImageDir
	case ClassFont:
		return n.layout.FontDir
	default:
		return n.layout.AssetDir
	}
}

func joinDir(dir, file string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return file
	}
	return dir + "/" + file
}
