package media

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// SanitizeFilename strips control characters, path separators, and quotes
// from a client-visible filename. Returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case r == '/' || r == '\\' || r == '"':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	cleaned = strings.Trim(cleaned, ".")
	return cleaned
}

// asciiFallback replaces every non-ASCII rune so the plain filename
// parameter is always safe for legacy clients.
func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r > 0x20 && r < 0x7f {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_ ")
	if out == "" {
		return "file"
	}
	return out
}

// ContentDisposition builds the response header value: inline by default,
// attachment when the client asked to download. The ASCII fallback is always
// present; the original name travels in the RFC 5987 extended parameter when
// it differs.
func ContentDisposition(filename string, attachment bool) string {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}
	name := SanitizeFilename(filename)
	if name == "" {
		name = "file"
	}
	ascii := asciiFallback(name)
	value := fmt.Sprintf("%s; filename=%q", kind, ascii)
	if ascii != name {
		value += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return value
}
