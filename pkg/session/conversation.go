package session

import (
	"context"
	"io"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/audio"
	"github.com/voicelink-dev/voicelink/pkg/broker"
	"github.com/voicelink-dev/voicelink/pkg/realtime"
	"github.com/voicelink-dev/voicelink/pkg/rtc"
)

// Config assembles a conversation. Mode is chosen once at startup and never
// switches at runtime.
type Config struct {
	Mode         realtime.SynthesisMode
	Instructions string
	Voice        string

	// RelayURL is the base URL of the relay that mints credentials and,
	// in delegated mode, renders speech.
	RelayURL string

	// SignalingURL overrides the default realtime signaling endpoint.
	SignalingURL string

	// OpenCapture opens the microphone.
	OpenCapture audio.Opener

	// Sink plays rendered speech in delegated mode.
	Sink audio.Sink

	// PlayerOut receives decoded model audio (PCM16) in native mode.
	PlayerOut io.Writer

	// Events surface state, status, and transcript changes.
	Events Events

	// OnSubtitle additionally receives each finished subtitle line, for
	// fanout beyond the transcript (caption publishing).
	OnSubtitle func(text string)
}

// Conversation wires the state machine, the negotiator, and the output
// audio path for one synthesis mode.
type Conversation struct {
	machine *Machine
	neg     *rtc.Negotiator
	speaker *audio.Speaker
	mode    realtime.SynthesisMode
}

// New builds a conversation. In delegated mode replies are queued through
// the relay's TTS proxy; in native mode the model's own audio track plays
// through PlayerOut.
func New(cfg Config) *Conversation {
	conv := &Conversation{mode: cfg.Mode}
	relay := broker.NewClient(cfg.RelayURL)

	if cfg.Mode == realtime.SynthesisDelegated {
		sink := cfg.Sink
		if sink == nil {
			sink = audio.DefaultPlayer()
		}
		conv.speaker = audio.NewSpeaker(relay, sink, cfg.Voice)
	}

	callbacks := realtime.Callbacks{
		OnSubtitle: func(text string) {
			conv.machine.SetTranscript(text)
			if cfg.OnSubtitle != nil {
				cfg.OnSubtitle(text)
			}
		},
		OnReply: func(text string) {
			if conv.speaker != nil {
				conv.speaker.Enqueue(audio.PlaybackItem{Text: text, Voice: cfg.Voice})
			}
		},
		OnStatus: func(status string) {
			conv.machine.setStatus(status)
		},
		OnResume: func() {
			if conn := conv.neg.Current(); conn != nil && conn.Player() != nil {
				conn.Player().Resume()
			}
		},
		OnDiagnostic: func(msg string) {
			log.Warn("realtime error event", "message", msg)
		},
	}

	conv.neg = rtc.NewNegotiator(rtc.Config{
		Mode:         cfg.Mode,
		Instructions: cfg.Instructions,
		Voice:        cfg.Voice,
		OpenCapture:  cfg.OpenCapture,
		Minter:       relay,
		SignalingURL: cfg.SignalingURL,
		PlayerOut:    cfg.PlayerOut,
	}, rtc.Hooks{
		Channel:       callbacks,
		OnChannelOpen: func() { conv.machine.ChannelOpened() },
		OnStateChange: func(s webrtc.PeerConnectionState) { conv.machine.TransportChanged(s) },
	})

	conv.machine = NewMachine(conv.neg, cfg.Events)
	return conv
}

// Machine exposes the state machine driving this conversation.
func (c *Conversation) Machine() *Machine { return c.machine }

// ToggleMic forwards the user's mic gesture.
func (c *Conversation) ToggleMic(ctx context.Context) error {
	return c.machine.ToggleMic(ctx)
}

// End hangs up and releases the speaker queue.
func (c *Conversation) End() {
	c.machine.End()
}

// Close ends the conversation and shuts the playback worker down.
func (c *Conversation) Close() error {
	c.machine.End()
	if c.speaker != nil {
		return c.speaker.Close()
	}
	return nil
}
