package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"
)

const (
	// WebRTC negotiates Opus at 48kHz.
	trackSampleRate = 48000

	// maxOpusFrameSamples is 120ms at 48kHz, the largest Opus frame.
	maxOpusFrameSamples = 5760
)

// TrackPlayer attaches the model's inbound audio track to a PCM output.
// It reads RTP off the track, decodes the negotiated Opus payload, and
// writes PCM16 to out. Used in native synthesis mode only.
type TrackPlayer struct {
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	paused   bool
	attached bool
	closed   bool
	stop     chan struct{}
}

// NewTrackPlayer creates a player writing decoded PCM16 (48kHz) to out.
func NewTrackPlayer(out io.Writer) *TrackPlayer {
	return &TrackPlayer{
		out:    out,
		logger: slog.Default().With("component", "audio.trackplayer"),
		stop:   make(chan struct{}),
	}
}

// Attach starts draining the remote track. Only the first audio track is
// accepted; extra tracks are ignored.
func (p *TrackPlayer) Attach(track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	p.mu.Lock()
	if p.attached || p.closed {
		p.mu.Unlock()
		return
	}
	p.attached = true
	p.mu.Unlock()

	go p.drain(track)
}

// Resume clears a playback suspension.
func (p *TrackPlayer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Pause suspends playback; decoded audio is dropped until Resume.
func (p *TrackPlayer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Close stops the drain loop. Idempotent.
func (p *TrackPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	return nil
}

// drain is the RTP read/decode loop for one track.
func (p *TrackPlayer) drain(track *webrtc.TrackRemote) {
	channels := int(track.Codec().Channels)
	if channels == 0 {
		channels = 1
	}

	dec, err := opus.NewDecoder(trackSampleRate, channels)
	if err != nil {
		p.logger.Error("opus decoder init failed", "error", err)
		return
	}

	pcm := make([]int16, maxOpusFrameSamples*channels)
	raw := make([]byte, len(pcm)*2)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("track read ended", "error", err)
			}
			return
		}

		if err := p.handlePacket(dec, pkt, pcm, raw, channels); err != nil {
			p.logger.Debug("dropping frame", "error", err)
		}
	}
}

// handlePacket decodes one RTP payload and writes it out unless paused.
func (p *TrackPlayer) handlePacket(dec *opus.Decoder, pkt *rtp.Packet, pcm []int16, raw []byte, channels int) error {
	if len(pkt.Payload) == 0 {
		return nil
	}

	n, err := dec.Decode(pkt.Payload, pcm)
	if err != nil {
		return err
	}

	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()
	if paused {
		return nil
	}

	samples := n * channels
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(pcm[i]))
	}
	_, err = p.out.Write(raw[:samples*2])
	return err
}
