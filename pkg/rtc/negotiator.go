package rtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink-dev/voicelink/internal/httpc"
	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/audio"
	"github.com/voicelink-dev/voicelink/pkg/broker"
	"github.com/voicelink-dev/voicelink/pkg/realtime"
)

const (
	// DefaultSignalingURL is where the SDP offer goes, authorized by the
	// ephemeral credential.
	DefaultSignalingURL = "https://api.openai.com/v1/realtime"

	// gatherTimeout caps how long we wait for ICE gathering to complete
	// before sending the offer with whatever candidates we have.
	gatherTimeout = 2 * time.Second

	dataChannelLabel = "oai-events"
)

// CredentialMinter mints the short-lived session credential. *broker.Client
// is the production implementation.
type CredentialMinter interface {
	CreateSession(ctx context.Context, req broker.SessionRequest) (broker.Credential, error)
}

var _ CredentialMinter = (*broker.Client)(nil)

// Config controls a Negotiator.
type Config struct {
	Mode         realtime.SynthesisMode
	Instructions string
	Voice        string

	// OpenCapture opens the local microphone. Required.
	OpenCapture audio.Opener

	// Minter mints ephemeral credentials. Required.
	Minter CredentialMinter

	// SignalingURL overrides DefaultSignalingURL.
	SignalingURL string

	// ICEServers overrides the default public STUN server. An explicit
	// empty-but-non-nil slice disables STUN (host candidates only).
	ICEServers []webrtc.ICEServer

	// PlayerOut receives decoded model audio in native mode. Required
	// when Mode is SynthesisNative.
	PlayerOut io.Writer

	// HTTPClient defaults to the shared pooled client.
	HTTPClient *http.Client
}

// Hooks are wired before Connect and fire from pion callbacks.
type Hooks struct {
	// Channel receives the data channel's event effects.
	Channel realtime.Callbacks

	// OnChannelOpen fires after the channel's opening messages are sent.
	OnChannelOpen func()

	// OnStateChange reports peer connection state transitions.
	OnStateChange func(state webrtc.PeerConnectionState)
}

// Negotiator owns at most one live Connection and runs the full non-trickle
// negotiation sequence to establish it.
type Negotiator struct {
	cfg   Config
	hooks Hooks
	http  *http.Client

	mu         sync.Mutex
	conn       *Connection
	connecting bool
}

func NewNegotiator(cfg Config, hooks Hooks) *Negotiator {
	if cfg.SignalingURL == "" {
		cfg.SignalingURL = DefaultSignalingURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.Client
	}
	return &Negotiator{cfg: cfg, hooks: hooks, http: client}
}

// Current returns the live connection, or nil.
func (n *Negotiator) Current() *Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

// Teardown releases the live connection, if any. Idempotent.
func (n *Negotiator) Teardown() {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()
	if conn != nil {
		conn.Teardown()
	}
}

// Connect runs the negotiation sequence and returns the established
// connection. If a connection already exists it is returned unchanged; a
// Connect racing another in-flight Connect returns ErrConnectInProgress
// rather than opening a second capture source. On any failure everything
// acquired so far is released before the error is returned, so a failed
// Connect leaves no state behind.
func (n *Negotiator) Connect(ctx context.Context) (*Connection, error) {
	n.mu.Lock()
	if n.conn != nil {
		conn := n.conn
		n.mu.Unlock()
		return conn, nil
	}
	if n.connecting {
		n.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	n.connecting = true
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.connecting = false
		n.mu.Unlock()
	}()

	src, err := n.openCapture()
	if err != nil {
		return nil, err
	}
	conn := &Connection{gate: audio.NewGate(src)}

	// negotiate publishes conn to n.conn before the transport can start;
	// roll that back on failure so Current never reports a dead connection.
	if err := n.negotiate(ctx, conn); err != nil {
		n.mu.Lock()
		if n.conn == conn {
			n.conn = nil
		}
		n.mu.Unlock()
		conn.Teardown()
		return nil, err
	}
	return conn, nil
}

// openCapture tries the enhanced constraints first; some capture stacks
// reject the processing flags, so a bare retry follows before giving up.
func (n *Negotiator) openCapture() (audio.Source, error) {
	src, err := n.cfg.OpenCapture(audio.EnhancedCapture())
	if err == nil {
		return src, nil
	}
	log.Debug("enhanced capture failed, retrying minimal", "error", err)
	src, err = n.cfg.OpenCapture(audio.MinimalCapture())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return src, nil
}

func (n *Negotiator) negotiate(ctx context.Context, conn *Connection) error {
	cred, err := n.cfg.Minter.CreateSession(ctx, broker.SessionRequest{
		Modalities:   n.modalities(),
		Instructions: n.cfg.Instructions,
		Voice:        n.cfg.Voice,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionFetchFailed, err)
	}

	iceServers := n.cfg.ICEServers
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	conn.pc = pc

	if n.hooks.OnStateChange != nil {
		pc.OnConnectionStateChange(n.hooks.OnStateChange)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"audio", "voicelink",
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	direction := webrtc.RTPTransceiverDirectionSendonly
	if n.cfg.Mode == realtime.SynthesisNative {
		direction = webrtc.RTPTransceiverDirectionSendrecv
	}
	if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{Direction: direction}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	if n.cfg.Mode == realtime.SynthesisNative {
		player := audio.NewTrackPlayer(n.cfg.PlayerOut)
		conn.player = player
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			player.Attach(remote)
		})
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	conn.dc = dc

	voice := n.cfg.Voice
	if voice == "" {
		voice = cred.Voice
	}
	channel := realtime.NewChannel(n.cfg.Mode, n.cfg.Instructions, voice, dc, n.hooks.Channel)
	conn.channel = channel

	dc.OnOpen(func() {
		channel.HandleOpen()
		if n.hooks.OnChannelOpen != nil {
			n.hooks.OnChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		channel.HandleMessage(msg.Data)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		log.Debug("ice gathering timed out, sending partial offer")
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := n.exchange(ctx, pc.LocalDescription().SDP, cred)
	if err != nil {
		return err
	}

	// Applying the answer starts the transport, and the data channel can
	// open from a transport goroutine at any point after that. The
	// connection must be visible to Current first, so readiness callbacks
	// that consult it find the live gate.
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("%w: apply answer: %v", ErrSdpExchangeFailed, err)
	}

	conn.pump = audio.NewPump(conn.gate, track)
	conn.pump.Start()
	return nil
}

// exchange posts the offer SDP and returns the answer SDP.
func (n *Negotiator) exchange(ctx context.Context, offerSDP string, cred broker.Credential) (string, error) {
	url := n.cfg.SignalingURL
	if cred.Model != "" && !strings.Contains(url, "model=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "model=" + cred.Model
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+cred.Secret)

	resp, err := n.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %v", ErrNetworkError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrSdpExchangeFailed, resp.StatusCode, truncate(body, 200))
	}
	return string(body), nil
}

func (n *Negotiator) modalities() []string {
	if n.cfg.Mode == realtime.SynthesisNative {
		return []string{"audio", "text"}
	}
	return []string{"text"}
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
