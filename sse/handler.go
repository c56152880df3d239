package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pumppulse/feed"
	"pumppulse/models"
)

// Upstream reports permanent ingestion failure to attached clients.
type Upstream interface {
	FatalDone() <-chan struct{}
	FatalErr() error
}

// marker is a lifecycle message on the client stream.
type marker struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// tokenMessage wraps a TokenEvent with its stream discriminator.
type tokenMessage struct {
	Type string `json:"type"`
	models.TokenEvent
}

// Handler streams the feed to one HTTP client as Server-Sent Events:
// a connected marker, then the snapshot replayed oldest first, then the
// live tail. The feed subscription is released on every exit path.
type Handler struct {
	feed      *feed.Feed
	upstream  Upstream
	log       *zap.SugaredLogger
	keepAlive time.Duration
}

func NewHandler(f *feed.Feed, upstream Upstream, log *zap.SugaredLogger) *Handler {
	return &Handler{
		feed:      f,
		upstream:  upstream,
		log:       log,
		keepAlive: 15 * time.Second,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, snapshot, live := h.feed.Subscribe()
	defer h.feed.Unsubscribe(id)

	h.log.Infow("Stream client attached", "subscriber", id, "remote_addr", r.RemoteAddr)
	defer h.log.Infow("Stream client detached", "subscriber", id)

	// The connected marker goes out before any history so the client
	// can tell a live stream from one that merely has data.
	if err := writeMessage(w, marker{Type: "connected"}); err != nil {
		return
	}

	// Replay oldest first: a prepend-rendering client ends up with the
	// same newest-first order the feed holds.
	for i := len(snapshot) - 1; i >= 0; i-- {
		if err := writeMessage(w, tokenMessage{Type: "newToken", TokenEvent: snapshot[i]}); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-h.upstream.FatalDone():
			reason := "upstream feed failed"
			if err := h.upstream.FatalErr(); err != nil {
				reason = err.Error()
			}
			writeMessage(w, marker{Type: "error", Message: reason})
			flusher.Flush()
			return

		case ev, ok := <-live:
			if !ok {
				// Dropped for falling behind.
				writeMessage(w, marker{Type: "error", Message: "stream fell behind"})
				flusher.Flush()
				return
			}
			if err := writeMessage(w, tokenMessage{Type: "newToken", TokenEvent: ev}); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeMessage(w http.ResponseWriter, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// NewSnapshotHandler serves the current feed window as plain JSON, for
// clients that want the list without holding a stream open.
func NewSnapshotHandler(f *feed.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := f.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Tokens []models.TokenEvent `json:"tokens"`
			Total  uint64              `json:"total"`
		}{
			Tokens: snapshot,
			Total:  f.TotalPublished(),
		})
	}
}
