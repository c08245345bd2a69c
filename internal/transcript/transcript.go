package transcript

import (
	"strings"
)

// Message is one unit of canonical conversational content.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Filter turns a raw transcript into canonical conversational content.
// Implementations must be pure: same input, same output, no side effects.
type Filter interface {
	Filter(raw []byte) ([]Message, error)
}

// Canonical serializes filtered messages into the fixed, order-preserving
// textual form used for fingerprinting and commitment. Fields are
// NUL-separated so role/text boundaries can never collide.
func Canonical(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteByte(0)
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
