package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// PlaybackItem is one utterance queued for delegated synthesis.
type PlaybackItem struct {
	// Text is the reply text to speak.
	Text string

	// Voice optionally overrides the speaker's default voice.
	Voice string
}

// Synthesizer renders text to an audio byte stream. Implemented by the
// relay client (over /tts) and adaptable from any tts.Provider.
type Synthesizer interface {
	Render(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Speaker plays queued utterances strictly in submission order, one at a
// time. A single worker dequeues an item, fetches its audio, and plays it
// to completion before touching the next. A fetch or playback failure is
// logged and the worker advances rather than stalling the queue.
type Speaker struct {
	synth  Synthesizer
	sink   Sink
	voice  string
	logger *slog.Logger

	mu    sync.Mutex
	queue []PlaybackItem

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewSpeaker creates a speaker and starts its playback worker.
// voice is the default used when an item carries none.
func NewSpeaker(synth Synthesizer, sink Sink, voice string) *Speaker {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		synth:  synth,
		sink:   sink,
		voice:  voice,
		logger: slog.Default().With("component", "audio.speaker"),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue appends an item to the playback queue.
// Items enqueued after Close are dropped.
func (s *Speaker) Enqueue(item PlaybackItem) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, item)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of items waiting (not counting in-flight).
func (s *Speaker) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close clears the queue and halts playback immediately, without waiting
// for the in-flight item to finish. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// run is the single playback worker.
func (s *Speaker) run() {
	defer close(s.done)

	for {
		item, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		s.playOne(item)

		if s.ctx.Err() != nil {
			return
		}
	}
}

// next pops the head of the queue.
func (s *Speaker) next() (PlaybackItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return PlaybackItem{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// playOne fetches and plays a single item to completion.
func (s *Speaker) playOne(item PlaybackItem) {
	voice := item.Voice
	if voice == "" {
		voice = s.voice
	}

	stream, err := s.synth.Render(s.ctx, item.Text, voice)
	if err != nil {
		s.logger.Warn("synthesis failed, skipping item",
			"chars", len(item.Text),
			"error", err,
		)
		return
	}
	defer stream.Close()

	if err := s.sink.Play(s.ctx, stream); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("playback failed, skipping item",
				"chars", len(item.Text),
				"error", err,
			)
		}
	}
}
