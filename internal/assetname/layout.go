package assetname

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// DefaultFileTemplate is the file part of every output path.
const DefaultFileTemplate = "[name]-[hash][extname]"

// Layout maps each file class to a destination directory and sets the file
// name template. Supported placeholders: [name], [hash], [ext] (no dot) and
// [extname] (with a leading dot, added if the extension lacks one).
type Layout struct {
	ScriptDir     string
	ImageDir      string
	FontDir       string
	AssetDir      string
	FileTemplate  string
	SanitizeNames bool
}

func DefaultLayout() Layout {
	return Layout{
		ScriptDir:    "assets/js",
		ImageDir:     "assets/images",
		FontDir:      "assets/fonts",
		AssetDir:     "assets",
		FileTemplate: DefaultFileTemplate,
	}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.ScriptDir == "" {
		l.ScriptDir = d.ScriptDir
	}
	if l.ImageDir == "" {
		l.ImageDir = d.ImageDir
	}
	if l.FontDir == "" {
		l.FontDir = d.FontDir
	}
	if l.AssetDir == "" {
		l.AssetDir = d.AssetDir
	}
	if l.FileTemplate == "" {
		l.FileTemplate = d.FileTemplate
	}
	return l
}

// Validate checks the template. Without [hash] a changed file would keep its
// name and break long-lived caching.
func (l Layout) Validate() error {
	l = l.withDefaults()
	if !strings.Contains(l.FileTemplate, "[hash]") {
		return xerrors.Newf("file template %q must contain [hash]", l.FileTemplate)
	}
	if strings.Contains(l.FileTemplate, "/") {
		return xerrors.Newf("file template %q must not contain path separators", l.FileTemplate)
	}
	for _, d := range []string{l.ScriptDir, l.ImageDir, l.FontDir, l.AssetDir} {
		if !pathutil.IsRelativeOutput(d) {
			return xerrors.Newf("directory %q must be relative without . or .. segments", d)
		}
	}
	return nil
}

func (l Layout) render(name, hash, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r := strings.NewReplacer(
		"[name]", name,
		"[hash]", hash,
		"[extname]", ext,
		"[ext]", strings.TrimPrefix(ext, "."),
	)
	return r.Replace(l.FileTemplate)
}
