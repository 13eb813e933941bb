// Package captions pushes the client's live caption lines to the relay so
// remote viewers can follow the conversation.
package captions

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelink-dev/voicelink/internal/log"
	"github.com/voicelink-dev/voicelink/pkg/hub"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	queueSize    = 64
)

// Publisher sends captions to the relay's publish websocket. Publishing is
// fire-and-forget: captions are advisory, so a full queue or a dead
// connection drops lines rather than slowing the conversation.
type Publisher struct {
	conn *websocket.Conn

	queue chan hub.Caption
	once  sync.Once
	done  chan struct{}
}

// Dial connects to the relay's publish endpoint, e.g.
// ws://localhost:8787/ws/captions/publish.
func Dial(url string) (*Publisher, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		conn:  conn,
		queue: make(chan hub.Caption, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Publish queues a caption. Never blocks.
func (p *Publisher) Publish(kind hub.CaptionKind, text string) {
	select {
	case p.queue <- hub.NewCaption(kind, text):
	default:
		log.Debug("caption queue full, dropping line")
	}
}

// Close flushes nothing and closes the connection. Idempotent.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *Publisher) run() {
	defer p.conn.Close()
	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case caption := <-p.queue:
			data, err := json.Marshal(caption)
			if err != nil {
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("caption publish ended", "error", err)
				return
			}
		}
	}
}
