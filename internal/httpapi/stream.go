package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/giftflare/service_layer/internal/middleware"
	"github.com/giftflare/service_layer/supabase/client"
)

const streamWriteTimeout = 10 * time.Second

// stream pushes a snapshot on connect and after every state change until the
// client goes away or the monitor stops.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithField("request_id", client.RequestIDFromContext(r.Context()))
	log.Debug("status stream opened")

	updates, cancel := h.monitor.Subscribe()
	defer cancel()

	// The read loop only services control frames and notices the peer closing.
	readDeadline := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("status stream closed by client")
			return
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"),
					time.Now().Add(streamWriteTimeout),
				)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(state); err != nil {
				log.WithError(err).Debug("status stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				log.WithError(err).Debug("status stream ping failed")
				return
			}
		}
	}
}

// checkOrigin accepts same-origin and non-browser clients, plus any origin
// the CORS policy allows.
func checkOrigin(cors *middleware.CORSMiddleware) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return cors.Allows(origin)
	}
}
