package assetname

import "strings"

// Cache-Control values handed to the delivery layer.
const (
	ImmutableCacheControl  = "public, max-age=31536000, immutable"
	RevalidateCacheControl = "no-cache"
)

// CacheControl returns the caching policy for a path. Paths the namer put
// under one of its directories carry a content hash and never change bytes,
// so they are cached forever; anything else (index.html, manifests) must be
// revalidated.
func (n *Namer) CacheControl(p string) string {
	if n == nil {
		n = Default()
	}
	for _, dir := range []string{n.layout.ScriptDir, n.layout.ImageDir, n.layout.FontDir, n.layout.AssetDir} {
		dir = strings.TrimSuffix(dir, "/")
		if dir != "" && strings.HasPrefix(p, dir+"/") {
			return ImmutableCacheControl
		}
	}
	return RevalidateCacheControl
}
