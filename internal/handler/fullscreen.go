package handler

import (
	"sync"

	"github.com/rs/zerolog"

	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// socketFullscreen drives the browser full-screen API over the socket.
// Enter and Exit become request frames; the client reports the resulting
// state back with the fullscreen action.
type socketFullscreen struct {
	conn *ws.Conn
	log  zerolog.Logger

	mu      sync.Mutex
	handler func(bool)
}

func newSocketFullscreen(conn *ws.Conn, log zerolog.Logger) *socketFullscreen {
	return &socketFullscreen{conn: conn, log: log}
}

func (f *socketFullscreen) OnChange(fn func(inFullscreen bool)) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *socketFullscreen) Enter() error {
	return f.conn.WriteTyped(ws.AckResponse{Event: ws.EventFullscreenRequest})
}

func (f *socketFullscreen) Exit() error {
	return f.conn.WriteTyped(ws.AckResponse{Event: ws.EventFullscreenExit})
}

// report forwards a client-side state change to the subscribed session.
func (f *socketFullscreen) report(active bool) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		f.log.Debug().Bool("active", active).Msg("Fullscreen report without subscriber")
		return
	}
	h(active)
}
