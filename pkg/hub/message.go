// Package hub fans live caption updates out to websocket viewers using the
// channel-based broadcast pattern: one goroutine owns the client set, and
// slow consumers are dropped rather than allowed to stall the rest.
package hub

import "time"

// CaptionKind distinguishes the update streams viewers can render.
type CaptionKind string

const (
	// KindSubtitle is a finished subtitle line from the model.
	KindSubtitle CaptionKind = "subtitle"

	// KindStatus is a human-readable connection status line.
	KindStatus CaptionKind = "status"

	// KindState is the conversation state name.
	KindState CaptionKind = "state"
)

// Caption is one update pushed to every connected viewer.
type Caption struct {
	Kind CaptionKind `json:"kind"`
	Text string      `json:"text"`
	At   time.Time   `json:"at"`
}

// NewCaption stamps a caption with the current time.
func NewCaption(kind CaptionKind, text string) Caption {
	return Caption{Kind: kind, Text: text, At: time.Now().UTC()}
}
