package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink-dev/voicelink/pkg/audio"
	"github.com/voicelink-dev/voicelink/pkg/rtc"
)

type nullSource struct{}

func (nullSource) Read(buf []byte) (int, error) { return len(buf), nil }
func (nullSource) Close() error                 { return nil }

type fakeConnector struct {
	connectErr error
	conn       *rtc.Connection
	gate       *audio.Gate
	connects   int
	teardowns  int
}

func (f *fakeConnector) Connect(context.Context) (*rtc.Connection, error) {
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	if f.conn == nil {
		f.gate = audio.NewGate(nullSource{})
		f.conn = rtc.NewConnection(f.gate, nil)
	}
	return f.conn, nil
}

func (f *fakeConnector) Teardown() {
	f.teardowns++
	if f.conn != nil {
		f.conn.Teardown()
		f.conn = nil
	}
}

func (f *fakeConnector) Current() *rtc.Connection { return f.conn }

func TestConnectFlow(t *testing.T) {
	conn := &fakeConnector{}
	var states []State
	m := NewMachine(conn, Events{OnState: func(s State) { states = append(states, s) }})

	if m.State() != StateIdle {
		t.Fatalf("initial state = %v", m.State())
	}

	if err := m.ToggleMic(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if m.State() != StateConnecting {
		t.Fatalf("state after connect = %v, want connecting", m.State())
	}
	if conn.gate.Enabled() {
		t.Error("capture must stay gated off until recording")
	}

	m.ChannelOpened()
	if m.State() != StateRecording {
		t.Fatalf("state after channel open = %v, want recording", m.State())
	}
	if !conn.gate.Enabled() {
		t.Error("recording should arm capture")
	}

	want := []State{StateConnecting, StateRecording}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("state events = %v, want %v", states, want)
	}
}

func TestPauseResume(t *testing.T) {
	conn := &fakeConnector{}
	m := NewMachine(conn, Events{})
	m.ToggleMic(context.Background())
	m.ChannelOpened()

	m.ToggleMic(context.Background())
	if m.State() != StateConnected {
		t.Fatalf("state after pause = %v, want connected", m.State())
	}
	if conn.gate.Enabled() {
		t.Error("pause should mute capture")
	}
	if conn.teardowns != 0 {
		t.Error("pause must keep the transport")
	}

	m.ToggleMic(context.Background())
	if m.State() != StateRecording {
		t.Fatalf("state after resume = %v, want recording", m.State())
	}
	if !conn.gate.Enabled() {
		t.Error("resume should re-arm capture")
	}
}

func TestGateReassertedEveryTransition(t *testing.T) {
	conn := &fakeConnector{}
	m := NewMachine(conn, Events{})
	m.ToggleMic(context.Background())
	m.ChannelOpened()
	m.ToggleMic(context.Background()) // paused

	// Something outside the machine flipped the gate; the next
	// transition must win it back.
	conn.gate.SetEnabled(true)
	m.ToggleMic(context.Background()) // recording
	m.ToggleMic(context.Background()) // paused again
	if conn.gate.Enabled() {
		t.Error("transition did not re-assert the gate")
	}
}

func TestConnectFailureSettlesIdle(t *testing.T) {
	conn := &fakeConnector{
		connectErr: fmt.Errorf("%w: status 401: unauthorized", rtc.ErrSessionFetchFailed),
	}
	var states []State
	m := NewMachine(conn, Events{OnState: func(s State) { states = append(states, s) }})

	err := m.ToggleMic(context.Background())
	if !errors.Is(err, rtc.ErrSessionFetchFailed) {
		t.Fatalf("expected session fetch error, got %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %v, want idle", m.State())
	}
	if !strings.Contains(m.Status(), "401") {
		t.Errorf("status should surface the upstream code, got %q", m.Status())
	}
	if conn.teardowns == 0 {
		t.Error("failed connect must run teardown")
	}
	if m.Transcript() != DefaultTranscript {
		t.Errorf("transcript = %q, want placeholder", m.Transcript())
	}

	sawError := false
	for _, s := range states {
		if s == StateError {
			sawError = true
		}
	}
	if !sawError || states[len(states)-1] != StateIdle {
		t.Errorf("expected momentary error then idle, got %v", states)
	}
}

func TestPermissionDeniedStatus(t *testing.T) {
	conn := &fakeConnector{connectErr: rtc.ErrPermissionDenied}
	m := NewMachine(conn, Events{})

	m.ToggleMic(context.Background())
	if m.State() != StateIdle {
		t.Fatalf("state = %v, want idle", m.State())
	}
	if !strings.Contains(strings.ToLower(m.Status()), "permission") {
		t.Errorf("status = %q, want a permission message", m.Status())
	}
}

func TestTransientDisconnectIsStatusOnly(t *testing.T) {
	conn := &fakeConnector{}
	m := NewMachine(conn, Events{})
	m.ToggleMic(context.Background())
	m.ChannelOpened()

	m.TransportChanged(webrtc.PeerConnectionStateDisconnected)
	if m.State() != StateRecording {
		t.Fatalf("transient disconnect changed state to %v", m.State())
	}
	if conn.teardowns != 0 {
		t.Error("transient disconnect must not tear down")
	}
	if m.Status() == "Listening..." {
		t.Error("transient disconnect should update the status line")
	}
}

func TestTransportFailureTearsDown(t *testing.T) {
	for _, ts := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
	} {
		t.Run(ts.String(), func(t *testing.T) {
			conn := &fakeConnector{}
			m := NewMachine(conn, Events{})
			m.ToggleMic(context.Background())
			m.ChannelOpened()
			m.SetTranscript("hello there")

			m.TransportChanged(ts)
			if m.State() != StateIdle {
				t.Fatalf("state = %v, want idle", m.State())
			}
			if conn.teardowns != 1 {
				t.Fatalf("teardowns = %d, want 1", conn.teardowns)
			}
			if m.Transcript() != DefaultTranscript {
				t.Errorf("transcript = %q, want placeholder restored", m.Transcript())
			}

			// Already idle: a late report is a no-op.
			m.TransportChanged(ts)
			if conn.teardowns != 1 {
				t.Error("transport report while idle must not tear down again")
			}
		})
	}
}

func TestEndIdempotent(t *testing.T) {
	conn := &fakeConnector{}
	m := NewMachine(conn, Events{})
	m.ToggleMic(context.Background())
	m.ChannelOpened()

	m.End()
	if m.State() != StateIdle {
		t.Fatalf("state = %v, want idle", m.State())
	}
	m.End()
	if m.State() != StateIdle {
		t.Fatal("second end changed state")
	}
}

func TestToggleIgnoredWhileConnecting(t *testing.T) {
	conn := &fakeConnector{}
	m := NewMachine(conn, Events{})
	m.ToggleMic(context.Background())

	if err := m.ToggleMic(context.Background()); err != nil {
		t.Fatalf("toggle while connecting: %v", err)
	}
	if m.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting", m.State())
	}
	if conn.connects != 1 {
		t.Errorf("connects = %d, want 1", conn.connects)
	}
}
