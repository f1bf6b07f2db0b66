// Package chunk decides which output chunk a resolved module belongs to.
//
// A Classifier holds an ordered list of rules. Rules are evaluated in order and
// the first one that matches wins; a module that matches nothing is deferred to
// the host bundler's default chunking heuristic.
//
// Classification is a pure function of the module id and the rule list, so a
// Classifier is safe for concurrent use once built.
package chunk

import "strings"

// DefaultDependencyDir marks a module id as third-party code.
const DefaultDependencyDir = "node_modules/"

// Kind describes how a decision was reached.
type Kind int

const (
	KindDeferred Kind = iota // no rule matched, bundler decides
	KindFamily               // matched a named dependency family
	KindVendor               // synthesized per-package vendor chunk
)

func (k Kind) String() string {
	switch k {
	case KindFamily:
		return "family"
	case KindVendor:
		return "vendor"
	default:
		return "deferred"
	}
}

// MarshalText lets Kind render as its name in JSON.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Decision is the outcome of classifying one module id.
type Decision struct {
	Chunk string `json:"chunk,omitempty"`
	Rule  string `json:"rule,omitempty"`
	Kind  Kind   `json:"kind"`
}

// OK reports whether a chunk was chosen.
func (d Decision) OK() bool { return d.Kind != KindDeferred && d.Chunk != "" }

// Rule is one entry of the ordered rule list.
// Apply is handed the normalized module id and the dependency dir marker.
type Rule interface {
	Name() string
	Apply(id, depDir string) (chunk string, ok bool)
}

// Classifier maps module ids to chunk names using first-match-wins rules.
type Classifier struct {
	depDir string
	rules  []Rule
}

// New builds a Classifier. An empty depDir falls back to DefaultDependencyDir
// and a missing trailing slash is added. The rules slice is copied.
func New(depDir string, rules ...Rule) *Classifier {
	depDir = withSlash(depDir)
	rs := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return &Classifier{depDir: depDir, rules: rs}
}

// Rules returns a copy of the rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// DependencyDir returns the marker used to detect third-party modules.
func (c *Classifier) DependencyDir() string { return c.depDir }

// Classify returns the chunk decision for a module id. It never panics and
// returns a deferred decision for application source or unmatched ids.
func (c *Classifier) Classify(id string) Decision {
	if c == nil {
		return Decision{}
	}
	id = normalize(id)
	if !strings.Contains(id, c.depDir) {
		return Decision{}
	}
	for _, r := range c.rules {
		name, ok := r.Apply(id, c.depDir)
		if !ok || name == "" {
			continue
		}
		kind := KindFamily
		if _, vendor := r.(*PerPackage); vendor {
			kind = KindVendor
		}
		return Decision{Chunk: name, Rule: r.Name(), Kind: kind}
	}
	return Decision{}
}

// Lookup is the host-bundler shaped form of Classify: ("", false) means defer.
func (c *Classifier) Lookup(id string) (string, bool) {
	d := c.Classify(id)
	return d.Chunk, d.OK()
}

// normalize converts windows separators so markers written with "/" match.
func normalize(id string) string {
	if strings.IndexByte(id, '\\') < 0 {
		return id
	}
	return strings.ReplaceAll(id, `\`, "/")
}
