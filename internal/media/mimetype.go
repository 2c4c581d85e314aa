package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/loomchat/loom/internal/bridge"
)

func isGenericMime(m string) bool {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "", "application/octet-stream", "binary/octet-stream", "application/unknown", "unknown/unknown":
		return true
	}
	return false
}

// ResolveMime settles the mimetype recorded in a media descriptor. Providers
// frequently declare a generic type, or a wrong one for voice notes; the
// filename extension wins in those cases.
func ResolveMime(declared, filename string, kind bridge.MediaKind) string {
	declared = strings.TrimSpace(declared)
	ext := strings.ToLower(filepath.Ext(filename))

	if kind == bridge.MediaVoice {
		// Voice notes are routinely misreported (e.g. declared audio/mpeg
		// for an opus-in-ogg payload). Trust the container extension.
		switch ext {
		case ".ogg", ".oga", ".opus":
			return "audio/ogg"
		}
		if isGenericMime(declared) {
			return "audio/ogg"
		}
		return declared
	}

	if !isGenericMime(declared) {
		return declared
	}
	if ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			// strip any charset parameter, descriptors carry the bare type
			if base, _, err := mime.ParseMediaType(byExt); err == nil {
				return base
			}
			return byExt
		}
	}
	return "application/octet-stream"
}

// ExtensionForMime picks a filename extension for generated fallback names.
func ExtensionForMime(m string) string {
	base := strings.ToLower(strings.TrimSpace(m))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
