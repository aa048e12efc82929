package intake

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "packing_list.jpg", "packing_list.jpg"},
		{"spaces", "my packing list.jpg", "my_packing_list.jpg"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\crew\slip.pdf`, "slip.pdf"},
		{"shell metacharacters", "inv$(rm -rf).png", "invrm_-rf.png"},
		{"accents decomposed", "reçu café.pdf", "recu_cafe.pdf"},
		{"empty", "", "unnamed"},
		{"dotfile", ".hidden", "unnamed"},
		{"only junk", "🚢📦", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameIdempotent(t *testing.T) {
	inputs := []string{
		"packing_list.jpg",
		"my packing list.jpg",
		"reçu café.pdf",
		strings.Repeat("a", 300) + ".jpg",
	}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		twice := SanitizeFilename(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestSanitizeFilenameTruncatesPreservingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".jpeg"
	got := SanitizeFilename(long)
	if len(got) != maxFilenameLen {
		t.Errorf("length = %d, want %d", len(got), maxFilenameLen)
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("extension lost: %q", got[len(got)-10:])
	}
}
