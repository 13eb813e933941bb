package captions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelink-dev/voicelink/pkg/hub"
)

func TestPublish(t *testing.T) {
	received := make(chan hub.Caption, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var c hub.Caption
			if err := json.Unmarshal(data, &c); err != nil {
				t.Errorf("bad frame: %v", err)
				return
			}
			received <- c
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/captions/publish"
	p, err := Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer p.Close()

	p.Publish(hub.KindSubtitle, "hello viewers")
	p.Publish(hub.KindState, "recording")

	for _, want := range []struct {
		kind hub.CaptionKind
		text string
	}{
		{hub.KindSubtitle, "hello viewers"},
		{hub.KindState, "recording"},
	} {
		select {
		case got := <-received:
			if got.Kind != want.kind || got.Text != want.text {
				t.Errorf("got %+v, want %v %q", got, want.kind, want.text)
			}
			if got.At.IsZero() {
				t.Error("caption missing timestamp")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for caption")
		}
	}
}

func TestDialFailure(t *testing.T) {
	if _, err := Dial("ws://127.0.0.1:1/ws/captions/publish"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestCloseIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := Dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p.Close()
	p.Close()
	p.Publish(hub.KindSubtitle, "dropped silently")
}
