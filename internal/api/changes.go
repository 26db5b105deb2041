package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackgods/clinic-scheduling/internal/events"
)

const changeWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// tokens travel in the query string, so any origin holding one may connect
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamChanges upgrades to a websocket and forwards change notices for the
// clinic until the client goes away. Only the notice is sent; clients refetch.
func (h *handlers) streamChanges(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := uuidParam(w, r, "clinicID")
	if !ok {
		return
	}
	if h.changes == nil {
		writeError(w, http.StatusServiceUnavailable, "changes_unavailable", "change stream is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		h.logger.Debug("websocket upgrade failed", "clinic_id", clinicID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// drain client frames so close and ping control messages are handled
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.changes.SubscribeClinic(ctx, clinicID, func(ev events.ChangeEvent) {
		_ = conn.SetWriteDeadline(time.Now().Add(changeWriteTimeout))
		if err := conn.WriteJSON(ChangeNotice{
			Entity:   string(ev.Entity),
			Op:       string(ev.Op),
			RecordID: ev.RecordID,
			At:       ev.At,
		}); err != nil {
			cancel()
		}
	})
	if err != nil {
		h.logger.Warn("change stream ended", "clinic_id", clinicID, "error", err)
	}
}
