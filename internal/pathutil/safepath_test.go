package pathutil

import (
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"assets/js", false},
		{"assets/./js", true},
		{"assets/../js", true},
		{".", true},
		{"..", true},
		{"...", false},
		{".vite/deps", false},
		{"assets/.", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsRelativeOutput(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", true},
		{"assets", true},
		{"assets/images", true},
		{"assets/images/", true},
		{"/assets", false},
		{"assets/../etc", false},
		{`assets\images`, false},
		{"assets//images", false},
		{"./assets", false},
	}
	for _, tt := range tests {
		if got := IsRelativeOutput(tt.path); got != tt.want {
			t.Errorf("IsRelativeOutput(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"rulesets", "abc.toml"}, "rulesets/abc.toml"},
		{[]string{"/rulesets/", "/abc.toml"}, "rulesets/abc.toml"},
		{[]string{"", "abc.toml"}, "abc.toml"},
		{[]string{"a", "", "b"}, "a/b"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := JoinKey(tt.parts...); got != tt.want {
			t.Errorf("JoinKey(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func FuzzHasDotSegments(f *testing.F) {
	f.Add("assets/./js")
	f.Add("assets/../js")
	f.Add("./assets")
	f.Add(".")
	f.Add("...")

	f.Fuzz(func(t *testing.T, p string) {
		want := false
		for _, seg := range strings.Split(p, "/") {
			if seg == "." || seg == ".." {
				want = true
				break
			}
		}
		if got := HasDotSegments(p); got != want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", p, got, want)
		}
	})
}
