package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SynthesisMode selects how spoken replies reach the listener.
// It is chosen once per deployment, never switched at runtime.
type SynthesisMode int

const (
	// SynthesisDelegated requests text-only replies and speaks them through
	// the external TTS pipeline. Local audio is send-only.
	SynthesisDelegated SynthesisMode = iota

	// SynthesisNative lets the model synthesize its own audio track.
	// Turns start on server-side voice activity detection.
	SynthesisNative
)

// String returns the mode name for logging and flags.
func (m SynthesisMode) String() string {
	if m == SynthesisNative {
		return "native"
	}
	return "delegated"
}

// sessionUpdate builds the session.update payload sent when the channel opens.
func sessionUpdate(mode SynthesisMode, instructions, voice string) []byte {
	session := map[string]interface{}{
		"instructions": instructions,
	}
	switch mode {
	case SynthesisNative:
		session["modalities"] = []string{"text", "audio"}
		if voice != "" {
			session["voice"] = voice
		}
		session["turn_detection"] = map[string]interface{}{
			"type": "server_vad",
		}
	default:
		session["modalities"] = []string{"text"}
	}

	msg := map[string]interface{}{
		"type":     "session.update",
		"event_id": uuid.NewString(),
		"session":  session,
	}
	data, _ := json.Marshal(msg)
	return data
}

// responseCreate builds the response.create control message that requests a
// new assistant turn with the given modalities.
func responseCreate(modalities ...string) []byte {
	msg := map[string]interface{}{
		"type":     "response.create",
		"event_id": uuid.NewString(),
		"response": map[string]interface{}{
			"modalities": modalities,
		},
	}
	data, _ := json.Marshal(msg)
	return data
}
