// Package content converts between a rich message (text plus zero or more
// images) and the single opaque string the store persists.
//
// Plain text is stored as-is. Only when images are attached does the
// content become a JSON envelope carrying both fields. Decoding is
// strictly backward compatible: anything that does not parse as the
// envelope is treated as plain text.
package content

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// MaxImageBytes bounds a single attached image payload. Images are stored
// inline as self-contained data URLs, never as external references, so an
// unbounded payload would bloat every later history read.
const MaxImageBytes = 10 << 20

// Rich is the decoded form of a message's content field. It is transient
// and never persisted directly.
type Rich struct {
	Text   string
	Images []string
}

// envelope is the persisted structured form.
type envelope struct {
	Text   *string  `json:"text"`
	Images []string `json:"images,omitempty"`
}

// Encode serializes text and images into the persisted content string.
// With no images the text is returned unchanged, so plain messages never
// gain structural wrapping.
func Encode(text string, images []string) string {
	kept := make([]string, 0, len(images))
	for _, img := range images {
		if len(img) > MaxImageBytes*4/3 {
			slog.Warn("dropping oversized image attachment", "size", len(img))
			continue
		}
		kept = append(kept, img)
	}
	if len(kept) == 0 {
		return text
	}

	payload, err := json.Marshal(&envelope{Text: &text, Images: kept})
	if err != nil {
		// Marshaling a string struct cannot realistically fail; fall back
		// to the plain form rather than lose the user's text.
		slog.Error("failed to encode structured content", "error", err)
		return text
	}
	return string(payload)
}

// Decode parses a persisted content string. A structured parse is only
// attempted when the outer shape looks like the envelope; on any parse
// failure, or when the parsed value lacks the text field, the whole
// string is returned as plain text.
func Decode(s string) Rich {
	if !looksStructured(s) {
		return Rich{Text: s}
	}

	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil || env.Text == nil {
		return Rich{Text: s}
	}
	return Rich{Text: *env.Text, Images: env.Images}
}

func looksStructured(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}
