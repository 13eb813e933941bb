package realtime

import (
	"log/slog"
	"strings"
)

// Sender is the outbound half of the underlying data channel.
// *webrtc.DataChannel satisfies it.
type Sender interface {
	SendText(s string) error
}

// Callbacks receives the effects of dispatched events.
// Nil fields are skipped.
type Callbacks struct {
	// OnSubtitle receives each finished subtitle line.
	OnSubtitle func(text string)

	// OnReply hands a finished reply to the output audio reconciler.
	OnReply func(text string)

	// OnStatus receives human-readable status updates.
	OnStatus func(status string)

	// OnResume asks the audio sink to resume playback (autoplay workaround).
	OnResume func()

	// OnDiagnostic receives upstream error reports. These never tear the
	// connection down by themselves.
	OnDiagnostic func(msg string)
}

// Channel multiplexes structured realtime events over one data channel.
//
// HandleOpen and HandleMessage must be called from the data channel's own
// callbacks, which the transport already serializes; events are therefore
// processed strictly in arrival order with no concurrent handlers.
type Channel struct {
	mode         SynthesisMode
	instructions string
	voice        string

	sender Sender
	cb     Callbacks
	logger *slog.Logger

	// Reply buffer for the current turn. At most one is live at a time.
	buf   strings.Builder
	acked bool
}

// NewChannel creates a channel for one connection attempt.
func NewChannel(mode SynthesisMode, instructions, voice string, sender Sender, cb Callbacks) *Channel {
	return &Channel{
		mode:         mode,
		instructions: instructions,
		voice:        voice,
		sender:       sender,
		cb:           cb,
		logger:       slog.Default().With("component", "realtime.channel"),
	}
}

// HandleOpen sends the session configuration update and, in delegated mode,
// the explicit turn-start message. Native mode relies on server-side voice
// activity detection to start turns instead.
func (c *Channel) HandleOpen() {
	c.send(sessionUpdate(c.mode, c.instructions, c.voice))
	if c.mode == SynthesisDelegated {
		c.send(responseCreate("text"))
	}
}

// HandleMessage parses and dispatches one inbound payload.
// Unknown shapes and non-JSON payloads are swallowed without error.
func (c *Channel) HandleMessage(data []byte) {
	ev, ok := ParseServerEvent(data)
	if !ok {
		return
	}

	switch ev.Kind {
	case KindTurnCreated:
		// A new turn resets the buffer even if the prior turn never
		// flushed (server-side turn aborts).
		c.buf.Reset()

	case KindTextDelta, KindTranscriptDelta:
		c.buf.WriteString(ev.Delta)

	case KindTurnDone:
		c.flush()

	case KindSessionUpdated:
		c.acked = true
		c.status("session configured")

	case KindInputCommitted:
		if c.mode == SynthesisNative {
			// End-of-speech detection becomes a model reply.
			c.send(responseCreate("audio", "text"))
		}

	case KindOutputAudioStarted:
		if c.mode == SynthesisNative && c.cb.OnResume != nil {
			c.cb.OnResume()
		}

	case KindError:
		if c.cb.OnDiagnostic != nil {
			c.cb.OnDiagnostic(ev.ErrorMessage)
		}

	default:
		c.logger.Debug("ignoring event", "type", ev.Type)
	}
}

// flush emits the accumulated reply and leaves the buffer empty.
func (c *Channel) flush() {
	text := c.buf.String()
	c.buf.Reset()
	if text == "" {
		return
	}
	if c.cb.OnSubtitle != nil {
		c.cb.OnSubtitle(text)
	}
	if c.cb.OnReply != nil {
		c.cb.OnReply(text)
	}
}

// Pending returns the unflushed reply text. Used by status displays and tests.
func (c *Channel) Pending() string {
	return c.buf.String()
}

// ConfigAcked reports whether the server acknowledged the session update.
func (c *Channel) ConfigAcked() bool {
	return c.acked
}

// Mode returns the channel's synthesis mode.
func (c *Channel) Mode() SynthesisMode {
	return c.mode
}

func (c *Channel) send(payload []byte) {
	if err := c.sender.SendText(string(payload)); err != nil {
		c.logger.Warn("send failed", "error", err)
	}
}

func (c *Channel) status(s string) {
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(s)
	}
}
