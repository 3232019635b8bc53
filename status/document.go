// Package status implements the server list ping: a responder that answers
// status requests on server connections, and a pinger that runs the exchange
// as a client.
package status

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Document is the JSON status document a server returns.
type Document struct {
	Version            VersionInfo     `json:"version"`
	Players            Players         `json:"players"`
	Description        json.RawMessage `json:"description,omitempty"`
	Favicon            string          `json:"favicon,omitempty"`
	EnforcesSecureChat bool            `json:"enforcesSecureChat,omitempty"`
}

type VersionInfo struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type Players struct {
	Max    int      `json:"max"`
	Online int      `json:"online"`
	Sample []Player `json:"sample,omitempty"`
}

// Player is an entry of the player sample. ID is a hyphenated UUID.
type Player struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// component is the subset of a text component that carries text.
type component struct {
	Text  string            `json:"text"`
	Extra []json.RawMessage `json:"extra"`
}

// Text returns the description as plain text. Formatting codes are kept.
func (d *Document) Text() string {
	var sb strings.Builder
	appendText(&sb, d.Description, 0)
	return sb.String()
}

func appendText(sb *strings.Builder, raw json.RawMessage, depth int) {
	if len(raw) == 0 || depth > 16 {
		return
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		sb.WriteString(s)
		return
	}
	var parts []json.RawMessage
	if json.Unmarshal(raw, &parts) == nil {
		for _, p := range parts {
			appendText(sb, p, depth+1)
		}
		return
	}
	var c component
	if json.Unmarshal(raw, &c) == nil {
		sb.WriteString(c.Text)
		for _, e := range c.Extra {
			appendText(sb, e, depth+1)
		}
	}
}

// Span is a run of description text under one legacy formatting code.
type Span struct {
	// Code is the last code before the text: '0' to 'f' for colors, 'r' for
	// reset, or 0 when none was given.
	Code byte
	Text string
}

// Spans splits text on legacy '§' formatting codes. Style codes (k to o)
// are dropped; colors and resets start a new span.
func Spans(text string) []Span {
	var (
		out []Span
		cur Span
		sb  strings.Builder
	)
	flush := func() {
		if sb.Len() > 0 {
			cur.Text = sb.String()
			out = append(out, cur)
			sb.Reset()
		}
	}
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '§' || i+1 == len(rs) {
			sb.WriteRune(rs[i])
			continue
		}
		i++
		c := unicode.ToLower(rs[i])
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c == 'r':
			flush()
			cur = Span{Code: byte(c)}
		case c >= 'k' && c <= 'o':
		default:
			sb.WriteRune('§')
			sb.WriteRune(rs[i])
		}
	}
	flush()
	return out
}
