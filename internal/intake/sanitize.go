package intake

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 200

// SanitizeFilename reduces an uploaded filename to a safe storage name:
// path components and shell metacharacters stripped, Unicode normalized to
// NFKD, restricted to [A-Za-z0-9._-], truncated to 200 chars. Empty or
// dot-led results become "unnamed". Idempotent.
func SanitizeFilename(name string) string {
	// Strip any path component, from either separator convention.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			// Control characters, metacharacters, and anything non-ASCII
			// that survived decomposition are dropped.
		}
	}
	out := b.String()

	if len(out) > maxFilenameLen {
		// Preserve the extension when truncating.
		ext := filepath.Ext(out)
		if len(ext) > 0 && len(ext) < maxFilenameLen {
			out = out[:maxFilenameLen-len(ext)] + ext
		} else {
			out = out[:maxFilenameLen]
		}
	}

	if out == "" || strings.HasPrefix(out, ".") {
		return "unnamed"
	}
	return out
}
