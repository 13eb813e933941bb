// Package audio provides the capture and playback plumbing for voicelink:
// a gated local capture source, a strictly-ordered speech queue for
// delegated synthesis, and a remote-track sink for native synthesis.
package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrSourceClosed is returned when reading from a closed source.
var ErrSourceClosed = errors.New("audio: source closed")

// CaptureOptions requests processing features from the capture device.
type CaptureOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// EnhancedCapture returns the preferred capture options.
func EnhancedCapture() CaptureOptions {
	return CaptureOptions{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// MinimalCapture returns the bare fallback options used when the device
// rejects the enhanced set.
func MinimalCapture() CaptureOptions {
	return CaptureOptions{}
}

// Source is a local PCM16 capture source.
type Source interface {
	// Read fills buf with PCM16 samples and returns the byte count.
	Read(buf []byte) (int, error)

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Opener acquires a capture source with the requested options.
// It stands in for the platform capture API so tests can deny permission.
type Opener func(opts CaptureOptions) (Source, error)

// Gate wraps a Source and silences it while disabled. The source keeps
// producing frames so stream timing is unaffected; the samples are zeroed.
// Only the conversation state machine flips the gate.
type Gate struct {
	mu      sync.Mutex
	src     Source
	enabled bool
	closed  bool
}

// NewGate wraps src with the gate disabled, so capture starts muted.
func NewGate(src Source) *Gate {
	return &Gate{src: src}
}

// SetEnabled flips the gate.
func (g *Gate) SetEnabled(on bool) {
	g.mu.Lock()
	g.enabled = on
	g.mu.Unlock()
}

// Enabled reports the gate state.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Read reads from the wrapped source, zeroing the samples while disabled.
func (g *Gate) Read(buf []byte) (int, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, ErrSourceClosed
	}
	src := g.src
	enabled := g.enabled
	g.mu.Unlock()

	n, err := src.Read(buf)
	if !enabled {
		for i := 0; i < n; i++ {
			buf[i] = 0
		}
	}
	return n, err
}

// Close closes the wrapped source. Idempotent.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.enabled = false
	return g.src.Close()
}

// ReaderSource adapts an io.Reader (raw PCM16) as a Source.
// Used by the CLI for file and stdin input.
type ReaderSource struct {
	r      io.Reader
	mu     sync.Mutex
	closed bool
}

// NewReaderSource wraps r as a capture source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Read reads raw PCM16 bytes.
func (s *ReaderSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSourceClosed
	}
	s.mu.Unlock()
	return s.r.Read(buf)
}

// Close marks the source closed. Idempotent.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
