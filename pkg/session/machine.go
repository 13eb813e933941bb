// Package session owns the conversation lifecycle: who may speak, when the
// microphone is live, and what status the user sees. All capture gating and
// status text flows through state transitions here; no other code path may
// flip the gate.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/rtc"
)

// State is the conversation state. Exactly one value at a time.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRecording
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultTranscript is shown when no conversation is live. Teardown always
// restores it.
const DefaultTranscript = "Tap the microphone to start a conversation."

// Connector establishes and releases the transport. *rtc.Negotiator is the
// production implementation.
type Connector interface {
	Connect(ctx context.Context) (*rtc.Connection, error)
	Teardown()
	Current() *rtc.Connection
}

var _ Connector = (*rtc.Negotiator)(nil)

// Events surface state changes to the UI layer. All fields are optional.
type Events struct {
	OnState      func(s State)
	OnStatus     func(text string)
	OnTranscript func(text string)
}

// Machine is the conversation state machine. It coordinates the connector
// and is the sole mutator of capture gating and status text.
type Machine struct {
	connector Connector
	events    Events

	mu         sync.Mutex
	state      State
	status     string
	transcript string
}

func NewMachine(c Connector, ev Events) *Machine {
	return &Machine{
		connector:  c,
		events:     ev,
		state:      StateIdle,
		transcript: DefaultTranscript,
	}
}

// State returns the current conversation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current user-facing status line.
func (m *Machine) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transcript returns the current transcript text.
func (m *Machine) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript
}

// ToggleMic is the user's single entry gesture. From Idle it drives the
// connect sequence; while live it pauses and resumes recording without
// touching the transport.
func (m *Machine) ToggleMic(ctx context.Context) error {
	switch m.State() {
	case StateIdle:
		return m.start(ctx)
	case StateRecording:
		m.setState(StateConnected, "Paused. Tap the mic to keep talking.")
		return nil
	case StateConnected:
		m.setState(StateRecording, "Listening...")
		return nil
	default:
		// Connecting and Error ignore the gesture; a connect is already
		// in flight or about to settle back to Idle.
		return nil
	}
}

func (m *Machine) start(ctx context.Context) error {
	m.setState(StateConnecting, "Connecting...")

	if _, err := m.connector.Connect(ctx); err != nil {
		m.fail(err)
		return err
	}
	// Stay in Connecting; ChannelOpened moves us to Recording once the
	// event channel is ready. Transport establishment alone is not
	// application readiness.
	return nil
}

// ChannelOpened marks the session live. Wired to the data channel's open
// callback.
func (m *Machine) ChannelOpened() {
	m.mu.Lock()
	connecting := m.state == StateConnecting
	m.mu.Unlock()
	if !connecting {
		return
	}
	m.setState(StateRecording, "Listening...")
}

// TransportChanged reacts to peer connection state reports. A transient
// "disconnected" is status-only; failed or closed is a full teardown.
func (m *Machine) TransportChanged(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateDisconnected:
		m.setStatus("Connection unstable...")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.mu.Lock()
		idle := m.state == StateIdle
		m.mu.Unlock()
		if idle {
			return
		}
		log.Info("transport ended, tearing down", "transport_state", s.String())
		m.teardown("Connection lost.")
	}
}

// End hangs up. Safe from any state, including Idle.
func (m *Machine) End() {
	m.teardown("Conversation ended.")
}

// SetTranscript replaces the transcript line shown to the user.
func (m *Machine) SetTranscript(text string) {
	m.mu.Lock()
	m.transcript = text
	cb := m.events.OnTranscript
	m.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

// fail surfaces an unrecoverable setup error. Error is momentary and always
// settles back to Idle with the reason in the status line.
func (m *Machine) fail(err error) {
	m.setState(StateError, humanize(err))
	m.teardownKeepStatus()
}

func (m *Machine) teardown(status string) {
	m.connector.Teardown()
	m.mu.Lock()
	m.transcript = DefaultTranscript
	tcb := m.events.OnTranscript
	m.mu.Unlock()
	if tcb != nil {
		tcb(DefaultTranscript)
	}
	m.setState(StateIdle, status)
}

// teardownKeepStatus is the failure path: the error reason set by fail
// survives the settle to Idle.
func (m *Machine) teardownKeepStatus() {
	m.connector.Teardown()
	m.mu.Lock()
	status := m.status
	m.transcript = DefaultTranscript
	tcb := m.events.OnTranscript
	m.mu.Unlock()
	if tcb != nil {
		tcb(DefaultTranscript)
	}
	m.setState(StateIdle, status)
}

// setState performs a transition. Capture enablement is a pure function of
// the new state and is re-asserted on every transition, even when the state
// value is unchanged, so a swapped media source can never stay hot.
func (m *Machine) setState(next State, status string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.status = status
	scb := m.events.OnState
	stcb := m.events.OnStatus
	m.mu.Unlock()

	if conn := m.connector.Current(); conn != nil {
		if gate := conn.Gate(); gate != nil {
			gate.SetEnabled(next == StateRecording)
		}
	}

	if prev != next {
		log.Debug("state transition", "from", prev.String(), "to", next.String())
	}
	if scb != nil {
		scb(next)
	}
	if stcb != nil {
		stcb(status)
	}
}

func (m *Machine) setStatus(status string) {
	m.mu.Lock()
	m.status = status
	cb := m.events.OnStatus
	m.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

// humanize maps connect failures to a user-facing status line. The wrapped
// detail stays visible so upstream status codes surface to the user.
func humanize(err error) string {
	switch {
	case errors.Is(err, rtc.ErrPermissionDenied):
		return "Microphone permission denied. Check your device settings and try again."
	case errors.Is(err, rtc.ErrSessionFetchFailed):
		return "Could not start a session: " + err.Error()
	case errors.Is(err, rtc.ErrSdpExchangeFailed):
		return "The voice service rejected the connection: " + err.Error()
	case errors.Is(err, rtc.ErrNetworkError):
		return "Network error. Check your connection and try again."
	default:
		return "Something went wrong: " + err.Error()
	}
}
