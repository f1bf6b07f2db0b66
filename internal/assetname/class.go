package assetname

import "strings"

// Class groups static assets by extension for directory routing.
type Class int

const (
	ClassOther Class = iota
	ClassScript
	ClassImage
	ClassFont
)

func (c Class) String() string {
	switch c {
	case ClassScript:
		return "script"
	case ClassImage:
		return "image"
	case ClassFont:
		return "font"
	default:
		return "other"
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

var imageExts = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "svg": {}, "gif": {}, "tiff": {}, "bmp": {}, "ico": {},
}

var fontExts = map[string]struct{}{
	"woff": {}, "woff2": {}, "eot": {}, "ttf": {}, "otf": {},
}

// ClassOf classifies a static-asset extension. The leading dot is optional and
// case is ignored; anything unrecognized (including "") is ClassOther.
func ClassOf(ext string) Class {
	e := strings.ToLower(strings.TrimPrefix(ext, "."))
	if _, ok := imageExts[e]; ok {
		return ClassImage
	}
	if _, ok := fontExts[e]; ok {
		return ClassFont
	}
	return ClassOther
}
