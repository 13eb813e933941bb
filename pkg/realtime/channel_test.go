package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// recordingSender captures outbound control messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) SendText(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) ofType(eventType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		var w struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(m), &w) == nil && w.Type == eventType {
			out = append(out, m)
		}
	}
	return out
}

func event(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestChannelOpen(t *testing.T) {
	t.Run("delegated sends config then turn start", func(t *testing.T) {
		sender := &recordingSender{}
		ch := NewChannel(SynthesisDelegated, "be brief", "", sender, Callbacks{})
		ch.HandleOpen()

		if len(sender.ofType("session.update")) != 1 {
			t.Error("expected one session.update")
		}
		if len(sender.ofType("response.create")) != 1 {
			t.Error("expected one response.create")
		}
	})

	t.Run("native sends config only", func(t *testing.T) {
		sender := &recordingSender{}
		ch := NewChannel(SynthesisNative, "be brief", "rachel", sender, Callbacks{})
		ch.HandleOpen()

		updates := sender.ofType("session.update")
		if len(updates) != 1 {
			t.Fatalf("expected one session.update, got %d", len(updates))
		}
		if len(sender.ofType("response.create")) != 0 {
			t.Error("native mode must not request a turn on open")
		}
		if !strings.Contains(updates[0], `"voice":"rachel"`) {
			t.Errorf("expected voice in session update: %s", updates[0])
		}
		if !strings.Contains(updates[0], "server_vad") {
			t.Errorf("expected server VAD turn detection: %s", updates[0])
		}
	})
}

func TestReplyBuffer(t *testing.T) {
	newCh := func(subs, replies *[]string) *Channel {
		return NewChannel(SynthesisDelegated, "", "", &recordingSender{}, Callbacks{
			OnSubtitle: func(s string) { *subs = append(*subs, s) },
			OnReply:    func(s string) { *replies = append(*replies, s) },
		})
	}

	t.Run("deltas accumulate and flush once", func(t *testing.T) {
		var subs, replies []string
		ch := newCh(&subs, &replies)

		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.created"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.text.delta", "delta": "hello "}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.audio_transcript.delta", "delta": "world"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.done"}))

		if len(subs) != 1 || subs[0] != "hello world" {
			t.Errorf("unexpected subtitles: %v", subs)
		}
		if len(replies) != 1 || replies[0] != "hello world" {
			t.Errorf("unexpected replies: %v", replies)
		}
		if ch.Pending() != "" {
			t.Errorf("buffer not empty after flush: %q", ch.Pending())
		}
	})

	t.Run("second done event does not re-emit", func(t *testing.T) {
		var subs, replies []string
		ch := newCh(&subs, &replies)

		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.created"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.text.delta", "delta": "once"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.text.done"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.done"}))

		if len(subs) != 1 {
			t.Errorf("expected one subtitle, got %v", subs)
		}
	})

	t.Run("turn created resets an unflushed buffer", func(t *testing.T) {
		var subs, replies []string
		ch := newCh(&subs, &replies)

		// First turn aborted server-side: no done event arrives.
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.created"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.text.delta", "delta": "leaked"}))

		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.created"}))
		if ch.Pending() != "" {
			t.Errorf("buffer must be empty right after turn created: %q", ch.Pending())
		}
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.text.delta", "delta": "clean"}))
		ch.HandleMessage(event(t, map[string]interface{}{"type": "response.done"}))

		if len(subs) != 1 || subs[0] != "clean" {
			t.Errorf("cross-turn text leaked: %v", subs)
		}
	})
}

func TestInputCommitted(t *testing.T) {
	t.Run("native requests a turn with audio and text", func(t *testing.T) {
		sender := &recordingSender{}
		ch := NewChannel(SynthesisNative, "", "", sender, Callbacks{})

		ch.HandleMessage(event(t, map[string]interface{}{"type": "input_audio_buffer.committed"}))

		creates := sender.ofType("response.create")
		if len(creates) != 1 {
			t.Fatalf("expected exactly one response.create, got %d", len(creates))
		}
		if !strings.Contains(creates[0], `"audio"`) || !strings.Contains(creates[0], `"text"`) {
			t.Errorf("expected audio+text modalities: %s", creates[0])
		}
	})

	t.Run("delegated ignores commits", func(t *testing.T) {
		sender := &recordingSender{}
		ch := NewChannel(SynthesisDelegated, "", "", sender, Callbacks{})

		ch.HandleMessage(event(t, map[string]interface{}{"type": "input_audio_buffer.committed"}))

		if len(sender.ofType("response.create")) != 0 {
			t.Error("delegated mode must not react to commits")
		}
	})
}

func TestOutputAudioStarted(t *testing.T) {
	resumed := 0
	ch := NewChannel(SynthesisNative, "", "", &recordingSender{}, Callbacks{
		OnResume: func() { resumed++ },
	})

	ch.HandleMessage(event(t, map[string]interface{}{"type": "output_audio_buffer.started"}))
	if resumed != 1 {
		t.Errorf("expected one resume nudge, got %d", resumed)
	}
}

func TestParseNoise(t *testing.T) {
	var diags []string
	ch := NewChannel(SynthesisDelegated, "", "", &recordingSender{}, Callbacks{
		OnDiagnostic: func(m string) { diags = append(diags, m) },
	})

	// None of these may panic, emit, or surface errors.
	ch.HandleMessage([]byte("not json at all"))
	ch.HandleMessage([]byte(`{"no_type_field": true}`))
	ch.HandleMessage(event(t, map[string]interface{}{"type": "some.future.event"}))

	if len(diags) != 0 {
		t.Errorf("noise must not surface diagnostics: %v", diags)
	}
	if ch.Pending() != "" {
		t.Errorf("noise must not touch the buffer: %q", ch.Pending())
	}
}

func TestErrorEvent(t *testing.T) {
	var diags []string
	ch := NewChannel(SynthesisDelegated, "", "", &recordingSender{}, Callbacks{
		OnDiagnostic: func(m string) { diags = append(diags, m) },
	})

	ch.HandleMessage(event(t, map[string]interface{}{
		"type":  "error",
		"error": map[string]interface{}{"message": "rate limit"},
	}))

	if len(diags) != 1 || diags[0] != "rate limit" {
		t.Errorf("unexpected diagnostics: %v", diags)
	}
}

func TestSessionUpdated(t *testing.T) {
	var statuses []string
	ch := NewChannel(SynthesisDelegated, "", "", &recordingSender{}, Callbacks{
		OnStatus: func(s string) { statuses = append(statuses, s) },
	})

	if ch.ConfigAcked() {
		t.Error("config must start unacked")
	}
	ch.HandleMessage(event(t, map[string]interface{}{"type": "session.updated"}))
	if !ch.ConfigAcked() {
		t.Error("expected config acked")
	}
	if len(statuses) != 1 {
		t.Errorf("expected a status update, got %v", statuses)
	}
}

func TestParseServerEvent(t *testing.T) {
	tests := []struct {
		wireType string
		kind     EventKind
	}{
		{"response.created", KindTurnCreated},
		{"response.text.delta", KindTextDelta},
		{"response.audio_transcript.delta", KindTranscriptDelta},
		{"response.text.done", KindTurnDone},
		{"response.audio_transcript.done", KindTurnDone},
		{"response.completed", KindTurnDone},
		{"response.done", KindTurnDone},
		{"session.updated", KindSessionUpdated},
		{"input_audio_buffer.committed", KindInputCommitted},
		{"output_audio_buffer.started", KindOutputAudioStarted},
		{"error", KindError},
		{"response.error", KindError},
		{"something.else", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.wireType, func(t *testing.T) {
			ev, ok := ParseServerEvent([]byte(`{"type":"` + tt.wireType + `"}`))
			if !ok {
				t.Fatal("expected parse to succeed")
			}
			if ev.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, ev.Kind)
			}
		})
	}
}
