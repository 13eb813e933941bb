// Package config provides environment-based configuration for voicelink commands.
package config

import (
	"os"
	"strings"
)

// Default configuration values.
const (
	DefaultListenAddr = ":8787"
	DefaultModel      = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice      = "alloy"
	DefaultRelayURL   = "http://localhost:8787"
)

// Env reads an environment variable, falling back to def when unset.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// OpenAIKey returns the OpenAI API key from OPENAI_API_KEY. Empty when
// unset; the relay refuses to start without it.
func OpenAIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// ElevenLabsKey returns the ElevenLabs API key from ELEVENLABS_API_KEY.
// Empty when unset; the relay disables the /voices and /tts routes without it.
func ElevenLabsKey() string {
	return os.Getenv("ELEVENLABS_API_KEY")
}

// ListenAddr returns the relay listen address from LISTEN_ADDR.
func ListenAddr() string {
	return Env("LISTEN_ADDR", DefaultListenAddr)
}

// Model returns the realtime model identifier from REALTIME_MODEL.
func Model() string {
	return Env("REALTIME_MODEL", DefaultModel)
}

// Voice returns the default synthesis voice from DEFAULT_VOICE.
func Voice() string {
	return Env("DEFAULT_VOICE", DefaultVoice)
}

// Modalities returns the enabled session modalities from MODALITIES,
// a comma-separated list. Defaults to text only.
func Modalities() []string {
	raw := Env("MODALITIES", "text")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RelayURL returns the relay base URL used by the client from RELAY_URL.
func RelayURL() string {
	return Env("RELAY_URL", DefaultRelayURL)
}

// TLSCertFile returns the optional TLS certificate path from TLS_CERT_FILE.
func TLSCertFile() string {
	return os.Getenv("TLS_CERT_FILE")
}

// TLSKeyFile returns the optional TLS key path from TLS_KEY_FILE.
func TLSKeyFile() string {
	return os.Getenv("TLS_KEY_FILE")
}
