package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// NDJSONFilter parses newline-delimited JSON transcripts into canonical
// messages. Lines that are blank, unparseable, or not conversational
// (no role or no content) are discarded, so whitespace-only edits and
// tooling noise never change the canonical content.
type NDJSONFilter struct {
	// Roles limits which roles survive filtering. Empty means all.
	Roles []string
}

// rawLine is the loose shape of one transcript line. Transcripts written by
// different recorders disagree on field names, so both are tried.
type rawLine struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// Filter implements the Filter interface.
func (f *NDJSONFilter) Filter(raw []byte) ([]Message, error) {
	var messages []Message
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rl rawLine
		if err := json.Unmarshal(line, &rl); err != nil {
			// Non-JSON noise in an otherwise structured transcript.
			continue
		}
		role := rl.Role
		if role == "" {
			role = rl.Type
		}
		text := rl.Text
		if text == "" {
			text = rl.Content
		}
		if text == "" {
			text = rl.Message
		}
		role = strings.TrimSpace(role)
		text = strings.TrimSpace(text)
		if role == "" || text == "" {
			continue
		}
		if !f.roleAllowed(role) {
			continue
		}
		messages = append(messages, Message{Role: role, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (f *NDJSONFilter) roleAllowed(role string) bool {
	if len(f.Roles) == 0 {
		return true
	}
	for _, r := range f.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
