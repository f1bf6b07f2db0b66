package chunk

import (
	"path"
	"strings"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// VendorPrefix is prepended to per-package chunk names.
const VendorPrefix = "vendor-"

// PackageDir is the top-level dependency directory a module lives under,
// e.g. "lodash", "@mui" or, with scoped parsing, "@mui/material".
type PackageDir struct {
	Name string
}

// Scoped reports whether the directory is an npm scope ("@scope...").
func (p PackageDir) Scoped() bool { return strings.HasPrefix(p.Name, "@") }

// Token renders the directory as a chunk-name fragment: the leading "@" is
// dropped and path separators become "-". Dropping the "@" means a scope and
// an unscoped package of the same name share a token ("@foo" and "foo" both
// give "foo"), so their modules land in one vendor chunk. Existing chunk
// names depend on this; ScopedNames keeps "@foo/x" apart as "foo-x".
func (p PackageDir) Token() string {
	t := strings.TrimPrefix(p.Name, "@")
	return strings.NewReplacer("/", "-", `\`, "-").Replace(t)
}

// Parser extracts the package directory that follows the first occurrence of
// DepDir in a module id.
type Parser struct {
	DepDir string
	// ScopedNames keeps "@scope/pkg" together instead of stopping at "@scope".
	ScopedNames bool
}

// ParsePackageDir parses id with the default dependency dir, first segment only.
func ParsePackageDir(id string) (PackageDir, bool) {
	return Parser{DepDir: DefaultDependencyDir}.Parse(id)
}

// Parse returns the package directory for id, or false when id has no
// dependency dir or nothing follows it.
func (p Parser) Parse(id string) (PackageDir, bool) {
	dep := withSlash(p.DepDir)
	id = normalize(id)

	i := strings.Index(id, dep)
	if i < 0 {
		return PackageDir{}, false
	}
	rest := id[i+len(dep):]
	name, tail := cutSegment(rest)
	if name == "" {
		return PackageDir{}, false
	}
	if p.ScopedNames && strings.HasPrefix(name, "@") {
		if pkg, _ := cutSegment(tail); pkg != "" {
			name = name + "/" + pkg
		}
	}
	return PackageDir{Name: name}, true
}

// cutSegment splits s at the first "/", returning the segment and the remainder.
func cutSegment(s string) (seg, rest string) {
	seg, rest, _ = strings.Cut(s, "/")
	return seg, rest
}

func withSlash(dir string) string {
	if dir == "" {
		return DefaultDependencyDir
	}
	dir = normalize(dir)
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir
}

// PackageFilter decides which package directories may get their own vendor
// chunk. Patterns use path.Match syntax and are matched against PackageDir.Name.
// An empty Allow list allows everything; Deny always wins.
type PackageFilter struct {
	Allow []string
	Deny  []string
}

// DefaultPackageFilter excludes the build tool's own pre-bundle cache dir.
func DefaultPackageFilter() PackageFilter {
	return PackageFilter{Deny: []string{".vite"}}
}

// Validate reports malformed glob patterns.
func (f PackageFilter) Validate() error {
	for _, p := range append(append([]string{}, f.Allow...), f.Deny...) {
		if _, err := path.Match(p, ""); err != nil {
			return xerrors.Wrapf(err, "invalid package pattern %q", p)
		}
	}
	return nil
}

// Allowed reports whether name passes the filter. Malformed patterns never match.
func (f PackageFilter) Allowed(name string) bool {
	if matchAny(f.Deny, name) {
		return false
	}
	if len(f.Allow) == 0 {
		return true
	}
	return matchAny(f.Allow, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// PerPackage is the catch-all rule: every remaining dependency gets a chunk
// named after its package directory so updating one package only invalidates
// that package's chunk.
type PerPackage struct {
	Prefix      string
	Filter      PackageFilter
	ScopedNames bool
}

// NewPerPackage builds the catch-all rule. An empty prefix uses VendorPrefix.
func NewPerPackage(prefix string, filter PackageFilter, scoped bool) *PerPackage {
	if prefix == "" {
		prefix = VendorPrefix
	}
	return &PerPackage{Prefix: prefix, Filter: filter, ScopedNames: scoped}
}

func (p *PerPackage) Name() string { return "per-package" }

func (p *PerPackage) Apply(id, depDir string) (string, bool) {
	dir, ok := Parser{DepDir: depDir, ScopedNames: p.ScopedNames}.Parse(id)
	if !ok || !p.Filter.Allowed(dir.Name) {
		return "", false
	}
	tok := dir.Token()
	if tok == "" {
		return "", false
	}
	return p.Prefix + tok, true
}
