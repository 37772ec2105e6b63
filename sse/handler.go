package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/regd/logger"
)

// Serve streams c's events to w until the request ends or the hub drops
// c. c must already be registered so nothing published while backlog was
// built is missed; live events with an id at or below the last backlog id
// are skipped.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, c *Client, backlog ...Event) {
	log := h.log.WithFields(logger.Fields("client_id", c.id))

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Streams are long-lived; the server's WriteTimeout must not cut them.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("could not clear write deadline", logger.Fields("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var last uint64
	for _, ev := range backlog {
		if _, err := ev.WriteTo(w); err != nil {
			return
		}
		if ev.ID > last {
			last = ev.ID
		}
	}
	flusher.Flush()
	log.Debug("stream opened", logger.Fields("pattern", c.pattern, "backlog", len(backlog), "remote_addr", r.RemoteAddr))

	keepAlive := time.NewTicker(h.cfg.KeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("stream closed by client")
			return

		case ev, ok := <-c.Events():
			if !ok {
				if c.Lagged() {
					_, _ = Event{Type: EventTypeError, Data: []byte(`{"code":"LAGGED","message":"stream fell behind; resume from Last-Event-ID"}`)}.WriteTo(w)
					flusher.Flush()
				}
				return
			}
			if ev.ID > 0 && ev.ID <= last {
				continue
			}
			if _, err := ev.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
