package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/audio"
	"github.com/voicelink-dev/voicelink/pkg/realtime"
)

// Connection bundles everything one live session owns: the peer connection,
// its data channel, the gated capture source feeding the outbound track, and
// the event channel state. Teardown releases all of it and is safe to call
// any number of times, including on a connection that only got partway
// through negotiation.
type Connection struct {
	mu     sync.Mutex
	closed bool

	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	gate    *audio.Gate
	pump    *audio.Pump
	player  *audio.TrackPlayer
	channel *realtime.Channel
}

// NewConnection wraps externally built parts as a Connection. The
// negotiator assembles its own; this exists for alternative transports
// and for exercising the session layer without a peer connection.
func NewConnection(gate *audio.Gate, channel *realtime.Channel) *Connection {
	return &Connection{gate: gate, channel: channel}
}

// Gate returns the capture gate; the session layer flips it on state
// transitions.
func (c *Connection) Gate() *audio.Gate { return c.gate }

// Channel returns the realtime event channel bound to the data channel.
func (c *Connection) Channel() *realtime.Channel { return c.channel }

// Player returns the remote-track player, or nil in delegated mode.
func (c *Connection) Player() *audio.TrackPlayer { return c.player }

// Teardown stops media flow and closes every held resource. Order matters:
// the data channel and peer connection close first to unblock track reads,
// the gate closes to unblock the pump's capture reads, and only then do we
// wait for the pump to exit.
func (c *Connection) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.dc != nil {
		if err := c.dc.Close(); err != nil {
			log.Debug("data channel close", "error", err)
		}
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Debug("peer connection close", "error", err)
		}
	}
	if c.gate != nil {
		if err := c.gate.Close(); err != nil && err != audio.ErrSourceClosed {
			log.Debug("capture close", "error", err)
		}
	}
	if c.pump != nil {
		c.pump.Stop()
	}
	if c.player != nil {
		if err := c.player.Close(); err != nil {
			log.Debug("player close", "error", err)
		}
	}
}
