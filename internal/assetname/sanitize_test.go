package assetname

import (
	"testing"
	"unicode/utf8"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@scope/pkg name!", "_scope_pkg_name_"},
		{"vendor-lodash", "vendor-lodash"},
		{"already_safe~1.0", "already_safe~1.0"},
		{"", ""},
		{"a b", "a_b"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{`C:\win\path`, "C__win_path"},
		{"naïve", "na_ve"},
		{"日本", "__"},
		{"emoji😀", "emoji_"},
		{"tab\tnl\n", "tab_nl_"},
		{"\xff\xfe", "__"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitize_ReturnsInputWhenSafe(t *testing.T) {
	in := "framework-core"
	if got := Sanitize(in); got != in {
		t.Fatalf("Sanitize(%q) = %q", in, got)
	}
}

func checkSanitized(t *testing.T, in, out string) {
	t.Helper()
	if utf8.RuneCountInString(out) != utf8.RuneCountInString(in) {
		t.Fatalf("Sanitize(%q) = %q changed rune count", in, out)
	}
	for _, r := range out {
		if !safeRune(r) {
			t.Fatalf("Sanitize(%q) = %q contains %q", in, out, r)
		}
	}
	if again := Sanitize(out); again != out {
		t.Fatalf("Sanitize not idempotent: %q -> %q -> %q", in, out, again)
	}
}

func TestSanitize_Properties(t *testing.T) {
	inputs := []string{
		"", "abc", "@scope/pkg name!", "a/b\\c", "日本語", "x\x00y", "\xff", "~._-", "🙂🙂",
	}
	for _, in := range inputs {
		checkSanitized(t, in, Sanitize(in))
	}
}

func FuzzSanitize(f *testing.F) {
	f.Add("@scope/pkg name!")
	f.Add("lodash")
	f.Add("日本")
	f.Add("\xff\xfe")

	f.Fuzz(func(t *testing.T, s string) {
		checkSanitized(t, s, Sanitize(s))
	})
}
