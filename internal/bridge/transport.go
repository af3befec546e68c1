package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Transport limits.
const (
	// HitTestRate is the sustained hitTest rate per connection.
	HitTestRate  = 120
	HitTestBurst = 30

	writeTimeout   = 2 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 256 * 1024,
}

// pageConn is one connected page. Writes are serialized because replies come
// from the read loop, the update loop and the image encoder.
type pageConn struct {
	id      string
	ws      *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func newPageConn(ws *websocket.Conn) *pageConn {
	return &pageConn{
		id:      uuid.NewString(),
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(HitTestRate), HitTestBurst),
	}
}

func (p *pageConn) send(r Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.ws.WriteJSON(r); err != nil {
		slog.Warn("failed to write bridge reply", "conn", p.id, "type", r.Type, "error", err)
	}
}

func (p *pageConn) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.ws.Close()
}

// ServeWS upgrades the request and runs the page's message loop until the
// socket closes or ctx is done. A session the page started is stopped when
// it disconnects.
func (c *Coordinator) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade bridge socket", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)
	page := newPageConn(ws)
	defer page.close()

	slog.Info("page connected", "conn", page.id, "remote", r.RemoteAddr)

	stop := context.AfterFunc(ctx, page.close)
	defer stop()

	ownsSession := false
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			slog.Info("page disconnected", "conn", page.id, "error", err.Error())
			break
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			slog.Warn("rejected bridge message", "conn", page.id, "error", err)
			page.send(Reply{Type: ReplyError, Data: err.Error()})
			continue
		}
		if msg.Type == MsgHitTest && !page.limiter.Allow() {
			page.send(Reply{Type: ReplyCallback, Callback: msg.Callback, Data: []HitPayload{}})
			continue
		}
		if err := c.HandleMessage(ctx, msg, page.send); err != nil {
			slog.Warn("bridge message failed", "conn", page.id, "type", msg.Type, "error", err)
			continue
		}
		switch msg.Type {
		case MsgRequestSession:
			ownsSession = true
		case MsgStopAR:
			ownsSession = false
		}
	}

	if ownsSession {
		c.stopSession(false)
	}
}
