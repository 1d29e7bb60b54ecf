// Package keys builds cache keys for tile blobs.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxNameLen = 64

// TileKey addresses one tile of one build of an archive. version changes on
// every rebuild, so stale blobs are never served after a republish.
func TileKey(name, archivePath, version string, z, x, y uint32) string {
	nameSafe := sanitize(strings.TrimSpace(name))
	if len(nameSafe) > maxNameLen {
		nameSafe = nameSafe[:maxNameLen]
	}

	h := xxhash.New()
	_, _ = h.WriteString(archivePath)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(version)

	return fmt.Sprintf("tile:%s:%d:%d:%d:v=%016x", nameSafe, z, x, y, h.Sum64())
}

// sanitize maps whitespace runs to '_' and any other rune outside
// [A-Za-z0-9_-] to '-', collapsing repeats.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r) && r <= unicode.MaxASCII:
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
