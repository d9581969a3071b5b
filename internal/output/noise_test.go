package output

import (
	"strings"
	"testing"
)

func TestStripEscapeCodes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain text", want: "plain text"},
		{in: "", want: ""},
		{in: "\x1b[31merror\x1b[0m", want: "error"},
		{in: "\x1b[1;32m\x1b[1;32mok\x1b[0m done\x1b[K", want: "ok done"},
		{in: "mid\x1b[2Kdle", want: "middle"},
	}
	for _, tc := range tests {
		if got := StripEscapeCodes(tc.in); got != tc.want {
			t.Fatalf("StripEscapeCodes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilterNixNoise(t *testing.T) {
	blob := strings.Repeat("QUJD", 40)
	longMessage := strings.Repeat("x", 120)

	tests := []struct {
		name     string
		in       string
		want     string
		wantKeep bool
	}{
		{name: "css declaration", in: "background-color: red;", wantKeep: false},
		{name: "blank", in: "", want: "", wantKeep: true},
		{name: "whitespace", in: "   ", want: "   ", wantKeep: true},
		{name: "json message", in: `{"message":"API rate limit exceeded"}`, want: "       → API rate limit exceeded", wantKeep: true},
		{name: "json without message value", in: `{"message": 42}`, wantKeep: false},
		{name: "base64", in: blob[:150], wantKeep: false},
		{name: "exactly threshold kept", in: blob[:100], want: blob[:100], wantKeep: true},
		{name: "dirty tree", in: "warning: Git tree '/etc/nixos' is dirty", wantKeep: false},
		{name: "html", in: "  <!DOCTYPE html>", wantKeep: false},
		{name: "closing tag", in: "</body>", wantKeep: false},
		{name: "lone brace", in: "  }", wantKeep: false},
		{name: "css rule", in: ".container {", wantKeep: false},
		{name: "media query", in: "@media (max-width: 600px) {", wantKeep: false},
		{name: "comment end", in: "some css */", wantKeep: false},
		{name: "normal", in: "• Updated input 'nixpkgs':", want: "• Updated input 'nixpkgs':", wantKeep: true},
		{name: "long json message", in: `{"message":"` + longMessage + `"}`, want: "       → " + longMessage[:77] + "...", wantKeep: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, keep := FilterNixNoise(tc.in)
			if keep != tc.wantKeep {
				t.Fatalf("keep = %v, want %v (line %q)", keep, tc.wantKeep, tc.in)
			}
			if keep && got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFilterNixNoiseJSONHasNoBraces(t *testing.T) {
	got, keep := FilterNixNoise(`{"message":"API rate limit exceeded"}`)
	if !keep {
		t.Fatalf("expected json message to be kept")
	}
	if strings.ContainsAny(got, `{}"`) {
		t.Fatalf("expected braces and quotes removed, got %q", got)
	}
	if !strings.Contains(got, "API rate limit exceeded") {
		t.Fatalf("expected message text, got %q", got)
	}
}

func TestNixTransformStripsBeforeFiltering(t *testing.T) {
	got, keep := NixTransform("\x1b[33mwarning:\x1b[0m Git tree is dirty")
	if keep {
		t.Fatalf("expected dirty warning to be dropped, got %q", got)
	}
	got, keep = NixTransform("\x1b[1mbuilding\x1b[0m foo")
	if !keep || got != "building foo" {
		t.Fatalf("unexpected transform result %q keep=%v", got, keep)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	buf := NewBuffer(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		buf.Append(line)
	}
	got := buf.Lines()
	if strings.Join(got, ",") != "c,d,e" {
		t.Fatalf("unexpected lines: %v", got)
	}
}

func TestBufferCloneIsIndependent(t *testing.T) {
	buf := NewBuffer(10)
	buf.Append("one")
	clone := buf.Clone()
	buf.Append("two")
	clone.Append("other")

	if strings.Join(clone.Lines(), ",") != "one,other" {
		t.Fatalf("clone saw writes from original: %v", clone.Lines())
	}
	if strings.Join(buf.Lines(), ",") != "one,two" {
		t.Fatalf("original saw writes from clone: %v", buf.Lines())
	}
}

func TestBufferDefaultCapacity(t *testing.T) {
	if got := NewBuffer(0).Capacity(); got != DefaultBufferSize {
		t.Fatalf("expected default capacity %d, got %d", DefaultBufferSize, got)
	}
}
