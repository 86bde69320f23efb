package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamHeartbeat = 25 * time.Second

// broadcastEvents streams broadcast change notices as Server-Sent Events.
// Clients re-fetch GET /broadcasts when one arrives.
func (a *API) broadcastEvents(w http.ResponseWriter, r *http.Request) {
	if a.deps.Events == nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeStorage, "streaming disabled")
		return
	}

	rc := http.NewResponseController(w)
	// clear the server WriteTimeout for this response
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(": stream started\n\n")); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ch := a.deps.Events.Subscribe(r.Context())
	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: broadcast\ndata: %s\n\n", payload); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
