package audio

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// CommandSource captures PCM16 by running an external recorder (arecord,
// parec, sox) and reading its stdout. It satisfies Source.
type CommandSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	closed bool
}

// NewCommandSource starts the recorder. The command must write raw
// PCM16 (48kHz mono) to stdout.
func NewCommandSource(name string, args ...string) (*CommandSource, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start recorder %s: %w", name, err)
	}
	return &CommandSource{cmd: cmd, stdout: stdout}, nil
}

func (s *CommandSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSourceClosed
	}
	s.mu.Unlock()
	return s.stdout.Read(buf)
}

// Close kills the recorder. Idempotent.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// DefaultRecorder opens the system microphone with arecord. CaptureOptions
// are accepted for interface compatibility; ALSA applies its own
// processing, so the flags have no command-line equivalent here.
func DefaultRecorder(CaptureOptions) (Source, error) {
	return NewCommandSource("arecord", "-q", "-f", "S16_LE", "-r", "48000", "-c", "1", "-t", "raw")
}

// PCMWriter plays a continuous PCM16 stream by piping it into an external
// player. Used as the native-mode playback output.
type PCMWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	closed bool
}

// NewPCMWriter starts the player. The command must read raw PCM16
// (48kHz mono) on stdin.
func NewPCMWriter(name string, args ...string) (*PCMWriter, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start player %s: %w", name, err)
	}
	return &PCMWriter{cmd: cmd, stdin: stdin}, nil
}

func (w *PCMWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	w.mu.Unlock()
	return w.stdin.Write(p)
}

// Close stops the player. Idempotent.
func (w *PCMWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.stdin.Close()
	return w.cmd.Wait()
}

// DefaultPCMPlayer pipes decoded model audio into aplay.
func DefaultPCMPlayer() (*PCMWriter, error) {
	return NewPCMWriter("aplay", "-q", "-f", "S16_LE", "-r", "48000", "-c", "1", "-t", "raw")
}
