package ruleset

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceBuiltin Source = "builtin"
	SourceFile    Source = "file"
	SourceS3      Source = "s3"
)

// Meta identifies where a Set came from.
type Meta struct {
	Version  string    `json:"version,omitempty"`
	SHA256   string    `json:"sha256,omitempty"`
	Source   Source    `json:"source"`
	Origin   string    `json:"origin,omitempty"` // file path or s3:// url
	Signed   bool      `json:"signed"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Set is a compiled rule set. It is immutable and safe for concurrent use.
type Set struct {
	Meta       Meta
	Document   Document
	Classifier *chunk.Classifier
	Namer      *assetname.Namer

	cache *chunk.Cached
}

type options struct {
	cacheSize int
	meta      Meta
}

type Option func(*options)

// WithCacheSize bounds the per-set decision cache.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithMeta sets provenance fields. Version and SHA256 are filled from the
// document when left empty.
func WithMeta(m Meta) Option { return func(o *options) { o.meta = m } }

// Compile validates d and builds a Set.
func Compile(d Document, opts ...Option) (*Set, error) {
	o := options{meta: Meta{Source: SourceUnknown}}
	for _, fn := range opts {
		fn(&o)
	}
	d = d.withDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c := chunk.New(d.DependencyDir, d.rules()...)
	cache, err := chunk.NewCached(c, o.cacheSize)
	if err != nil {
		return nil, err
	}

	meta := o.meta
	if meta.Version == "" {
		meta.Version = d.Version
	}
	if meta.Source == "" {
		meta.Source = SourceUnknown
	}
	if meta.LoadedAt.IsZero() {
		meta.LoadedAt = time.Now().UTC()
	}
	return &Set{
		Meta:       meta,
		Document:   d,
		Classifier: c,
		Namer:      assetname.New(d.layout()),
		cache:      cache,
	}, nil
}

// Parse decodes and compiles a TOML rule set. Meta.SHA256 is the digest of
// data.
func Parse(data []byte, opts ...Option) (*Set, error) {
	d, err := Decode(data)
	if err != nil {
		return nil, err
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.meta.SHA256 == "" {
		o.meta.SHA256 = cryptoutil.SHA256Hex(data)
	}
	return Compile(d, append(opts, WithMeta(o.meta))...)
}

// Default compiles the built-in rule set.
func Default(opts ...Option) *Set {
	d := DefaultDocument()
	data, err := d.Encode()
	if err != nil {
		panic(xerrors.Wrap(err, "encode builtin rule set"))
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	m := o.meta
	m.Source = SourceBuiltin
	if m.SHA256 == "" {
		m.SHA256 = cryptoutil.SHA256Hex(data)
	}
	s, err := Compile(d, append(opts, WithMeta(m))...)
	if err != nil {
		panic(xerrors.Wrap(err, "compile builtin rule set"))
	}
	return s
}

// Classify returns the (cached) chunk decision for a module id.
func (s *Set) Classify(id string) chunk.Decision {
	if s == nil {
		return chunk.Decision{}
	}
	return s.cache.Classify(id)
}

// Name returns the output path for an emitted file.
func (s *Set) Name(f assetname.EmittedFile) string {
	if s == nil {
		return assetname.Default().Name(f)
	}
	return s.Namer.Name(f)
}

// CachedDecisions reports the decision cache size.
func (s *Set) CachedDecisions() int { return s.cache.Len() }
