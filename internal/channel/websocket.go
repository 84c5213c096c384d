package channel

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	maxMessageSize   = 64 * 1024
)

// WSDialer opens gorilla websocket connections. Each Dial runs its own
// read pump goroutine and hands every event to Post, which is expected to
// queue it on the session loop.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
	Post   func(func()) bool
	Logger *slog.Logger
}

func NewWSDialer(header http.Header, post func(func()) bool, logger *slog.Logger) *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		Header: header,
		Post:   post,
		Logger: logger,
	}
}

func (d *WSDialer) Dial(endpoint string, ev Events) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, _, err := d.Dialer.DialContext(ctx, endpoint, d.Header)
		cancel()
		if err != nil {
			d.Post(func() { ev.OnClose(err) })
			return
		}
		wc := &wsConn{conn: conn}
		d.Post(func() { ev.OnOpen(wc) })
		d.readPump(wc, ev)
	}()
}

func (d *WSDialer) readPump(wc *wsConn, ev Events) {
	wc.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && d.Logger != nil {
				d.Logger.Debug("websocket read error", "error", err)
			}
			_ = wc.Close()
			d.Post(func() { ev.OnClose(err) })
			return
		}
		d.Post(func() { ev.OnMessage(data) })
	}
}

type wsConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (w *wsConn) Send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.mu.Unlock()
		err = w.conn.Close()
	})
	return err
}
