package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSynth records render order and can fail specific texts.
type fakeSynth struct {
	mu       sync.Mutex
	rendered []string
	failFor  map[string]bool
}

func (f *fakeSynth) Render(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.rendered = append(f.rendered, text)
	fail := f.failFor[text]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("synthesis failed")
	}
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

func (f *fakeSynth) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rendered))
	copy(out, f.rendered)
	return out
}

// fakeSink records playback completion order and detects overlap.
type fakeSink struct {
	mu        sync.Mutex
	playing   int
	maxAtOnce int
	played    []string
	delay     time.Duration
	doneCh    chan string
}

func newFakeSink(delay time.Duration) *fakeSink {
	return &fakeSink{delay: delay, doneCh: make(chan string, 16)}
}

func (s *fakeSink) Play(ctx context.Context, audio io.Reader) error {
	data, _ := io.ReadAll(audio)

	s.mu.Lock()
	s.playing++
	if s.playing > s.maxAtOnce {
		s.maxAtOnce = s.playing
	}
	s.mu.Unlock()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		s.mu.Lock()
		s.playing--
		s.mu.Unlock()
		return ctx.Err()
	}

	s.mu.Lock()
	s.playing--
	s.played = append(s.played, string(data))
	s.mu.Unlock()

	s.doneCh <- string(data)
	return nil
}

func (s *fakeSink) Resume() {}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) waitFor(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case d := <-s.doneCh:
			got = append(got, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d completions, have %v", n, got)
		}
	}
	return got
}

func TestSpeakerOrdering(t *testing.T) {
	synth := &fakeSynth{}
	sink := newFakeSink(10 * time.Millisecond)
	sp := NewSpeaker(synth, sink, "v")
	defer sp.Close()

	sp.Enqueue(PlaybackItem{Text: "a"})
	sp.Enqueue(PlaybackItem{Text: "b"})
	sp.Enqueue(PlaybackItem{Text: "c"})

	got := sink.waitFor(t, 3)
	want := []string{"audio:a", "audio:b", "audio:c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback order %v, want %v", got, want)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.maxAtOnce > 1 {
		t.Errorf("observed %d concurrent playbacks, want at most 1", sink.maxAtOnce)
	}
}

func TestSpeakerAdvancesPastFailure(t *testing.T) {
	synth := &fakeSynth{failFor: map[string]bool{"bad": true}}
	sink := newFakeSink(0)
	sp := NewSpeaker(synth, sink, "v")
	defer sp.Close()

	sp.Enqueue(PlaybackItem{Text: "bad"})
	sp.Enqueue(PlaybackItem{Text: "good"})

	got := sink.waitFor(t, 1)
	if got[0] != "audio:good" {
		t.Errorf("expected the queue to advance past the failed item, got %v", got)
	}
	order := synth.order()
	if len(order) != 2 || order[0] != "bad" || order[1] != "good" {
		t.Errorf("unexpected render order: %v", order)
	}
}

func TestSpeakerVoiceDefaulting(t *testing.T) {
	var gotVoice string
	var mu sync.Mutex
	synth := synthFunc(func(ctx context.Context, text, voice string) (io.ReadCloser, error) {
		mu.Lock()
		gotVoice = voice
		mu.Unlock()
		return io.NopCloser(strings.NewReader("x")), nil
	})
	sink := newFakeSink(0)
	sp := NewSpeaker(synth, sink, "default-voice")
	defer sp.Close()

	sp.Enqueue(PlaybackItem{Text: "hi"})
	sink.waitFor(t, 1)
	mu.Lock()
	if gotVoice != "default-voice" {
		t.Errorf("expected default voice, got %q", gotVoice)
	}
	mu.Unlock()

	sp.Enqueue(PlaybackItem{Text: "hi", Voice: "override"})
	sink.waitFor(t, 1)
	mu.Lock()
	if gotVoice != "override" {
		t.Errorf("expected override voice, got %q", gotVoice)
	}
	mu.Unlock()
}

type synthFunc func(ctx context.Context, text, voice string) (io.ReadCloser, error)

func (f synthFunc) Render(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	return f(ctx, text, voice)
}

func TestSpeakerClose(t *testing.T) {
	t.Run("clears queue and halts in-flight", func(t *testing.T) {
		synth := &fakeSynth{}
		sink := newFakeSink(5 * time.Second) // longer than the test
		sp := NewSpeaker(synth, sink, "v")

		sp.Enqueue(PlaybackItem{Text: "a"})
		sp.Enqueue(PlaybackItem{Text: "b"})

		// Give the worker time to start the first item.
		time.Sleep(50 * time.Millisecond)

		start := time.Now()
		if err := sp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("close waited for in-flight playback: %v", elapsed)
		}
		if sp.QueueLen() != 0 {
			t.Errorf("queue not cleared: %d items", sp.QueueLen())
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		sp := NewSpeaker(&fakeSynth{}, newFakeSink(0), "v")
		if err := sp.Close(); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if err := sp.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
	})

	t.Run("enqueue after close is dropped", func(t *testing.T) {
		synth := &fakeSynth{}
		sp := NewSpeaker(synth, newFakeSink(0), "v")
		sp.Close()
		sp.Enqueue(PlaybackItem{Text: "late"})
		time.Sleep(20 * time.Millisecond)
		if len(synth.order()) != 0 {
			t.Error("item enqueued after close was rendered")
		}
	})
}

func TestGate(t *testing.T) {
	t.Run("starts muted and zeroes samples", func(t *testing.T) {
		g := NewGate(NewReaderSource(strings.NewReader("\x01\x02\x03\x04")))
		defer g.Close()

		if g.Enabled() {
			t.Error("gate must start disabled")
		}
		buf := make([]byte, 4)
		n, err := g.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for i := 0; i < n; i++ {
			if buf[i] != 0 {
				t.Fatalf("expected silence while disabled, got %v", buf[:n])
			}
		}
	})

	t.Run("passes samples when enabled", func(t *testing.T) {
		g := NewGate(NewReaderSource(strings.NewReader("\x01\x02")))
		defer g.Close()

		g.SetEnabled(true)
		buf := make([]byte, 2)
		n, _ := g.Read(buf)
		if n != 2 || buf[0] != 1 || buf[1] != 2 {
			t.Errorf("unexpected read: n=%d buf=%v", n, buf)
		}
	})

	t.Run("close is idempotent and disables", func(t *testing.T) {
		g := NewGate(NewReaderSource(strings.NewReader("")))
		g.SetEnabled(true)
		if err := g.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := g.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if g.Enabled() {
			t.Error("closed gate must be disabled")
		}
		if _, err := g.Read(make([]byte, 2)); err != ErrSourceClosed {
			t.Errorf("expected ErrSourceClosed, got %v", err)
		}
	})
}
