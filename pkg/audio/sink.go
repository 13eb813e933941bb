package audio

import (
	"context"
	"io"
	"os/exec"
	"sync"
)

// Sink plays rendered audio to the listener.
type Sink interface {
	// Play streams one utterance to the output device and blocks until
	// playback completes or ctx is cancelled.
	Play(ctx context.Context, audio io.Reader) error

	// Resume nudges a suspended sink to continue playback.
	Resume()

	// Close halts playback and releases the device. Idempotent.
	Close() error
}

// CommandSink pipes audio bytes into an external player process, one
// process per utterance. The default player handles MP3 from stdin.
type CommandSink struct {
	name string
	args []string

	mu     sync.Mutex
	closed bool
}

// NewCommandSink creates a sink that runs the given player command for
// each utterance, writing the audio to its stdin.
func NewCommandSink(name string, args ...string) *CommandSink {
	return &CommandSink{name: name, args: args}
}

// DefaultPlayer returns a sink backed by mpg123 reading from stdin.
func DefaultPlayer() *CommandSink {
	return NewCommandSink("mpg123", "-q", "-")
}

// Play runs the player to completion for one utterance.
func (s *CommandSink) Play(ctx context.Context, audio io.Reader) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, s.name, s.args...)
	cmd.Stdin = audio
	return cmd.Run()
}

// Resume is a no-op: command playback has no suspension state.
func (s *CommandSink) Resume() {}

// Close marks the sink closed. In-flight playback is cancelled through the
// context passed to Play.
func (s *CommandSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify CommandSink implements Sink at compile time.
var _ Sink = (*CommandSink)(nil)
