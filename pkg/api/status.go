package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sheet-cluster-map/pkg/statusbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const pingPeriod = 30 * time.Second

// handleStatusSocket streams load state events of the caller's viewer. The
// current state is sent first so the loading overlay matches at once. While
// the socket is open the viewer does not expire.
func (h *Handler) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		http.Error(w, "status stream disabled", http.StatusServiceUnavailable)
		return
	}
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		h.Logf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := h.Bus.Subscribe(ctx, v.Session, 16)

	// Reads only detect the close; clients never send anything useful.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.Logf("websocket read: %v", err)
				}
				return
			}
		}
	}()

	state, lastErr := v.Views.State()
	first := statusbus.Event{
		Session:    v.Session,
		Generation: v.Views.Generation(),
		State:      state.String(),
		ViewID:     v.Menu.Current(),
		At:         time.Now().Unix(),
	}
	if lastErr != nil {
		first.Error = lastErr.Error()
	}
	if err := writeEvent(conn, first); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	keep := time.NewTicker(keepInterval(h.Registry.TTL()))
	defer keep.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				if !isClientDisconnect(err) {
					h.Logf("websocket write: %v", err)
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-keep.C:
			if err := h.Registry.Keep(ctx, v.Session, v); err != nil {
				return
			}
		}
	}
}

// keepInterval renews a viewer well before its TTL runs out.
func keepInterval(ttl time.Duration) time.Duration {
	iv := ttl / 3
	if iv > pingPeriod {
		iv = pingPeriod
	}
	if iv < 100*time.Millisecond {
		iv = 100 * time.Millisecond
	}
	return iv
}

func writeEvent(conn *websocket.Conn, e statusbus.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
