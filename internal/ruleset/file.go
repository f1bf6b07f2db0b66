package ruleset

import (
	"os"
	"path/filepath"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// maxDocumentBytes caps rule-set documents read from disk or S3.
const maxDocumentBytes = 1 << 20

// LoadFile reads and compiles a rule set from a local TOML file.
func LoadFile(path string, opts ...Option) (*Set, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat rule set %s", path)
	}
	if fi.IsDir() {
		return nil, xerrors.Newf("rule set %s is a directory", path)
	}
	if fi.Size() > maxDocumentBytes {
		return nil, xerrors.Newf("rule set %s is %d bytes, limit is %d", path, fi.Size(), maxDocumentBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read rule set %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	m := o.meta
	m.Source = SourceFile
	m.Origin = abs
	s, err := Parse(data, append(opts, WithMeta(m))...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load rule set %s", path)
	}
	return s, nil
}
