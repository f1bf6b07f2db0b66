package ruleset

import (
	"bytes"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/assetname"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/chunk"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// Document is the TOML form of a rule set.
//
//	version = "2024.06.1"
//	dependency_dir = "node_modules/"
//
//	[[family]]
//	name = "framework"
//	chunk = "framework-core"
//	markers = ["react/", "react-dom/"]
//
//	[vendor]
//	prefix = "vendor-"
//	deny = [".vite"]
//
//	[layout]
//	file_template = "[name]-[hash][extname]"
type Document struct {
	Version       string      `toml:"version,omitempty" json:"version,omitempty"`
	DependencyDir string      `toml:"dependency_dir" json:"dependency_dir"`
	Families      []FamilyDoc `toml:"family" json:"families"`
	Vendor        VendorDoc   `toml:"vendor" json:"vendor"`
	Layout        LayoutDoc   `toml:"layout" json:"layout"`
}

type FamilyDoc struct {
	Name    string   `toml:"name" json:"name"`
	Chunk   string   `toml:"chunk" json:"chunk"`
	Markers []string `toml:"markers" json:"markers"`
}

type VendorDoc struct {
	Disabled    bool     `toml:"disabled,omitempty" json:"disabled,omitempty"`
	Prefix      string   `toml:"prefix" json:"prefix"`
	ScopedNames bool     `toml:"scoped_names,omitempty" json:"scoped_names,omitempty"`
	Allow       []string `toml:"allow,omitempty" json:"allow,omitempty"`
	Deny        []string `toml:"deny" json:"deny"`
}

type LayoutDoc struct {
	ScriptDir     string `toml:"script_dir" json:"script_dir"`
	ImageDir      string `toml:"image_dir" json:"image_dir"`
	FontDir       string `toml:"font_dir" json:"font_dir"`
	AssetDir      string `toml:"asset_dir" json:"asset_dir"`
	FileTemplate  string `toml:"file_template" json:"file_template"`
	SanitizeNames bool   `toml:"sanitize_names,omitempty" json:"sanitize_names,omitempty"`
}

// DefaultDocument is the built-in rule set: the default families in
// priority order, a per-package vendor rule that skips ".vite", and the
// default output layout.
func DefaultDocument() Document {
	fams := chunk.DefaultFamilies()
	docs := make([]FamilyDoc, 0, len(fams))
	for _, f := range fams {
		docs = append(docs, FamilyDoc{
			Name:    f.Name(),
			Chunk:   f.Chunk,
			Markers: append([]string(nil), f.Markers...),
		})
	}
	l := assetname.DefaultLayout()
	return Document{
		Version:       "builtin",
		DependencyDir: chunk.DefaultDependencyDir,
		Families:      docs,
		Vendor: VendorDoc{
			Prefix: chunk.VendorPrefix,
			Deny:   chunk.DefaultPackageFilter().Deny,
		},
		Layout: LayoutDoc{
			ScriptDir:    l.ScriptDir,
			ImageDir:     l.ImageDir,
			FontDir:      l.FontDir,
			AssetDir:     l.AssetDir,
			FileTemplate: l.FileTemplate,
		},
	}
}

// Decode parses a TOML rule set. Unknown keys are rejected so a typo
// cannot silently disable a rule. Omitted settings take defaults; an
// omitted vendor deny list means the default deny list, while an explicit
// empty list denies nothing.
func Decode(data []byte) (Document, error) {
	var d Document
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&d)
	if err != nil {
		return Document{}, xerrors.Wrap(err, "decode rule set")
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, 0, len(und))
		for _, k := range und {
			keys = append(keys, k.String())
		}
		return Document{}, xerrors.Newf("unknown rule set keys: %s", strings.Join(keys, ", "))
	}
	if !md.IsDefined("vendor", "deny") {
		d.Vendor.Deny = chunk.DefaultPackageFilter().Deny
	}
	return d.withDefaults(), nil
}

func (d Document) withDefaults() Document {
	if d.DependencyDir == "" {
		d.DependencyDir = chunk.DefaultDependencyDir
	}
	if d.Vendor.Prefix == "" {
		d.Vendor.Prefix = chunk.VendorPrefix
	}
	def := assetname.DefaultLayout()
	if d.Layout.ScriptDir == "" {
		d.Layout.ScriptDir = def.ScriptDir
	}
	if d.Layout.ImageDir == "" {
		d.Layout.ImageDir = def.ImageDir
	}
	if d.Layout.FontDir == "" {
		d.Layout.FontDir = def.FontDir
	}
	if d.Layout.AssetDir == "" {
		d.Layout.AssetDir = def.AssetDir
	}
	if d.Layout.FileTemplate == "" {
		d.Layout.FileTemplate = def.FileTemplate
	}
	return d
}

// Encode renders d as TOML.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return nil, xerrors.Wrap(err, "encode rule set")
	}
	return buf.Bytes(), nil
}

// Validate reports every problem in the document at once.
func (d Document) Validate() error {
	var errs []error

	dep := strings.Trim(d.DependencyDir, "/")
	if dep == "" {
		errs = append(errs, xerrors.New("dependency_dir must name a directory"))
	}

	seen := make(map[string]int, len(d.Families))
	for i, f := range d.Families {
		at := i + 1
		switch {
		case f.Name == "":
			errs = append(errs, xerrors.Newf("family #%d: name is required", at))
		case seen[f.Name] > 0:
			errs = append(errs, xerrors.Newf("family #%d: duplicate name %q (first at #%d)", at, f.Name, seen[f.Name]))
		default:
			seen[f.Name] = at
		}
		if f.Chunk == "" {
			errs = append(errs, xerrors.Newf("family %q: chunk is required", f.Name))
		} else if assetname.Sanitize(f.Chunk) != f.Chunk {
			errs = append(errs, xerrors.Newf("family %q: chunk %q has characters unsafe in file names", f.Name, f.Chunk))
		}
		if len(f.Markers) == 0 {
			errs = append(errs, xerrors.Newf("family %q: at least one marker is required", f.Name))
		}
		for _, m := range f.Markers {
			if strings.TrimSpace(m) == "" {
				errs = append(errs, xerrors.Newf("family %q: empty marker", f.Name))
				break
			}
		}
	}

	if !d.Vendor.Disabled {
		if assetname.Sanitize(d.Vendor.Prefix) != d.Vendor.Prefix {
			errs = append(errs, xerrors.Newf("vendor prefix %q has characters unsafe in file names", d.Vendor.Prefix))
		}
		if err := d.filter().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.layout().Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := xerrors.Join(errs...); err != nil {
		return xerrors.Wrap(err, "invalid rule set")
	}
	return nil
}

func (d Document) filter() chunk.PackageFilter {
	return chunk.PackageFilter{Allow: d.Vendor.Allow, Deny: d.Vendor.Deny}
}

func (d Document) layout() assetname.Layout {
	return assetname.Layout{
		ScriptDir:     d.Layout.ScriptDir,
		ImageDir:      d.Layout.ImageDir,
		FontDir:       d.Layout.FontDir,
		AssetDir:      d.Layout.AssetDir,
		FileTemplate:  d.Layout.FileTemplate,
		SanitizeNames: d.Layout.SanitizeNames,
	}
}

// rules builds the ordered rule list: families first, vendor last.
func (d Document) rules() []chunk.Rule {
	rules := make([]chunk.Rule, 0, len(d.Families)+1)
	for _, f := range d.Families {
		rules = append(rules, &chunk.Family{
			Label:   f.Name,
			Chunk:   f.Chunk,
			Markers: append([]string(nil), f.Markers...),
		})
	}
	if !d.Vendor.Disabled {
		rules = append(rules, chunk.NewPerPackage(d.Vendor.Prefix, d.filter(), d.Vendor.ScopedNames))
	}
	return rules
}
