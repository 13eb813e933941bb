// Package tts voice presets for ElevenLabs.
package tts

// Presets maps friendly preset names to ElevenLabs voice IDs.
// Use ResolveVoice to look up a voice by name or pass through raw IDs.
var Presets = map[string]string{
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"aria":      "9BWtsMINqrJLrRacOk9x", // American female, expressive
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"lily":      "pFZP5JQG7iQjIQuC4Bku", // British female, warm
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
	"sam":       "yoZ06aMxZJJ28mfd3POQ", // American male, raspy
}

// DefaultPreset is the default voice preset.
const DefaultPreset = "rachel"

// ResolveVoice returns the voice ID for a preset name,
// or the input unchanged if it's already a voice ID.
func ResolveVoice(name string) string {
	if id, ok := Presets[name]; ok {
		return id
	}
	return name // Assume it's already a voice ID
}

// IsPreset returns true if the name is a known preset.
func IsPreset(name string) bool {
	_, ok := Presets[name]
	return ok
}
