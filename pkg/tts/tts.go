// Package tts provides a unified interface for text-to-speech providers.
//
// The package supports multiple TTS backends including ElevenLabs and OpenAI.
// All providers implement the Provider interface, enabling seamless switching
// without changing caller code. The relay's /tts route streams provider audio
// straight through, so Stream is the hot path; Synthesize exists for callers
// that want the whole buffer.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithDefaultVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	stream, _ := provider.Stream(ctx, tts.Request{Text: "Hello world"})
package tts

import "context"

// Request describes one synthesis request.
type Request struct {
	// Text is the text to synthesize.
	Text string

	// Voice optionally overrides the provider's default voice for this
	// request. Preset names are resolved via ResolveVoice.
	Voice string
}

// Provider defines the TTS provider interface.
// All implementations must satisfy this interface for seamless provider switching.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, req Request) (*AudioResult, error)

	// Stream converts text to audio with streaming output for lowest latency.
	// Audio chunks are returned as they become available.
	Stream(ctx context.Context, req Request) (AudioStream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// VoiceLister is implemented by providers that expose a voice catalog.
type VoiceLister interface {
	// Voices returns the available voices for this provider.
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice describes one entry in a provider's voice catalog.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the audio codec (e.g., mp3_44100_128, pcm_24000).
	Encoding Encoding

	// SampleRate in Hz (e.g., 24000, 44100).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format options.
type Encoding string

const (
	// EncodingMP3 is MP3 at 44.1kHz 128kbps, the relay streaming default.
	EncodingMP3 Encoding = "mp3_44100_128"

	// EncodingPCM24 is 24kHz mono PCM16.
	EncodingPCM24 Encoding = "pcm_24000"

	// EncodingPCM44 is 44.1kHz mono PCM16.
	EncodingPCM44 Encoding = "pcm_44100"
)

// MIME returns the MIME type for an encoding.
func (e Encoding) MIME() string {
	switch e {
	case EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}
