// Package realtime implements the structured event channel layered on the
// peer connection's data channel. It parses inbound realtime events into a
// closed set of kinds, dispatches them in arrival order, and serializes
// outbound session/control messages.
package realtime

import "encoding/json"

// EventKind identifies one inbound realtime event type.
// The set is closed: anything the parser does not recognize maps to
// KindUnknown and is logged by kind only.
type EventKind int

const (
	KindUnknown EventKind = iota

	// KindTurnCreated marks the start of a new assistant turn.
	KindTurnCreated

	// KindTextDelta carries an incremental text fragment.
	KindTextDelta

	// KindTranscriptDelta carries an incremental audio-transcript fragment.
	KindTranscriptDelta

	// KindTurnDone marks the end of a turn (any of the done/completed
	// wire types).
	KindTurnDone

	// KindSessionUpdated acknowledges a session configuration update.
	KindSessionUpdated

	// KindInputCommitted signals that server-side voice activity detection
	// committed the user's audio buffer.
	KindInputCommitted

	// KindOutputAudioStarted signals that the model started emitting audio.
	KindOutputAudioStarted

	// KindError carries an upstream error report.
	KindError
)

// String returns a short name for logging.
func (k EventKind) String() string {
	switch k {
	case KindTurnCreated:
		return "turn_created"
	case KindTextDelta:
		return "text_delta"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindTurnDone:
		return "turn_done"
	case KindSessionUpdated:
		return "session_updated"
	case KindInputCommitted:
		return "input_committed"
	case KindOutputAudioStarted:
		return "output_audio_started"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerEvent is one parsed inbound event.
type ServerEvent struct {
	Kind EventKind

	// Type is the raw wire type string, kept for logging.
	Type string

	// Delta holds the text fragment for delta events.
	Delta string

	// ErrorMessage holds the upstream message for error events.
	ErrorMessage string
}

// wireEvent is the superset of fields we read off the wire.
type wireEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseServerEvent parses one inbound data channel payload.
// Non-JSON payloads are expected noise, not failures: ok is false and the
// caller drops the message without surfacing an error.
func ParseServerEvent(data []byte) (ServerEvent, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ServerEvent{}, false
	}
	if w.Type == "" {
		return ServerEvent{}, false
	}

	ev := ServerEvent{Type: w.Type}
	switch w.Type {
	case "response.created":
		ev.Kind = KindTurnCreated
	case "response.text.delta", "response.audio_transcript.delta":
		if w.Type == "response.text.delta" {
			ev.Kind = KindTextDelta
		} else {
			ev.Kind = KindTranscriptDelta
		}
		ev.Delta = w.Delta
	case "response.text.done", "response.audio_transcript.done", "response.completed", "response.done":
		ev.Kind = KindTurnDone
	case "session.updated":
		ev.Kind = KindSessionUpdated
	case "input_audio_buffer.committed":
		ev.Kind = KindInputCommitted
	case "output_audio_buffer.started":
		ev.Kind = KindOutputAudioStarted
	case "error", "response.error":
		ev.Kind = KindError
		ev.ErrorMessage = w.Error.Message
	default:
		ev.Kind = KindUnknown
	}
	return ev, true
}
