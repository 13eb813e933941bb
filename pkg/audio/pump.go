package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	// pumpFrameMs is the Opus frame duration sent upstream.
	pumpFrameMs = 20

	pumpSamplesPerFrame = trackSampleRate * pumpFrameMs / 1000
	pumpBytesPerFrame   = pumpSamplesPerFrame * 2
)

// SampleWriter is the outbound half of a local media track.
// *webrtc.TrackLocalStaticSample satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// Pump drives the local capture source into the peer connection's audio
// track: it reads PCM16 frames (48kHz mono), Opus-encodes them, and writes
// timed samples. The gate upstream of the pump decides whether the frames
// carry speech or silence, so the pump itself never pauses.
type Pump struct {
	src    Source
	track  SampleWriter
	logger *slog.Logger

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewPump creates a pump; call Start to begin streaming.
func NewPump(src Source, track SampleWriter) *Pump {
	return &Pump{
		src:    src,
		track:  track,
		logger: slog.Default().With("component", "audio.pump"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the encode/send loop in its own goroutine.
func (p *Pump) Start() {
	go p.run()
}

// Stop halts the loop and waits for it to exit. Idempotent.
func (p *Pump) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pump) run() {
	defer close(p.done)

	enc, err := opus.NewEncoder(trackSampleRate, 1, opus.AppVoIP)
	if err != nil {
		p.logger.Error("opus encoder init failed", "error", err)
		return
	}

	raw := make([]byte, pumpBytesPerFrame)
	pcm := make([]int16, pumpSamplesPerFrame)
	packet := make([]byte, 1500)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if _, err := io.ReadFull(p.src, raw); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF && err != ErrSourceClosed {
				p.logger.Debug("capture read ended", "error", err)
			}
			return
		}

		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}

		n, err := enc.Encode(pcm, packet)
		if err != nil {
			p.logger.Debug("encode failed, dropping frame", "error", err)
			continue
		}

		sample := media.Sample{
			Data:     append([]byte(nil), packet[:n]...),
			Duration: pumpFrameMs * time.Millisecond,
		}
		if err := p.track.WriteSample(sample); err != nil {
			p.logger.Debug("track write ended", "error", err)
			return
		}
	}
}
