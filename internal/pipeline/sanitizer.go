package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danmuck/courierd/internal/protocol"
)

// DefaultMaxBodyRunes clamps the cleaned body length.
const DefaultMaxBodyRunes = 4096

// Sanitizer derives a SanitizedMessage from a Shield-passed inbound message.
// It never fails: unrecoverable content degrades to an empty body with the
// dropped fields flagged, rather than dropping the message.
type Sanitizer struct {
	maxBody int
}

func NewSanitizer(maxBody int) Sanitizer {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyRunes
	}
	return Sanitizer{maxBody: maxBody}
}

// Sanitize cleans the raw payload into a safe text body.
func (s Sanitizer) Sanitize(msg protocol.InboundMessage) SanitizedMessage {
	out := SanitizedMessage{InboundMessage: msg}

	body := string(msg.RawPayload)
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, "�")
		out.RemovedFields = append(out.RemovedFields, "invalid_utf8")
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, body)
	if cleaned != body {
		out.RemovedFields = append(out.RemovedFields, "control_chars")
	}

	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > s.maxBody {
		cleaned = string(runes[:s.maxBody])
		out.RemovedFields = append(out.RemovedFields, "truncated")
	}

	out.Body = cleaned
	return out
}
