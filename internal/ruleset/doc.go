// Package ruleset loads, validates and serves chunking and naming rule sets.
//
// A rule set is a TOML document holding the dependency marker, the ordered
// dependency families, the per-package vendor rule and the output layout.
// It compiles into a Set (classifier, decision cache and namer). The active
// Set lives in a Manager and is swapped atomically when the Watcher sees a
// new published hash.
package ruleset
