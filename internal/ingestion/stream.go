package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/logging"
)

const (
	streamProgress = "progress"
	streamComplete = "complete"

	wsWriteWait = 10 * time.Second
)

// streamMessage is the websocket frame; SSE uses the same kinds as event names.
type streamMessage struct {
	Type     string                `json:"type"`
	Progress *domain.ProgressEvent `json:"progress,omitempty"`
	Batch    *batchView            `json:"batch,omitempty"`
}

type streamSink struct {
	send func(kind string, payload any) error
	ping func() error
}

// follow relays progress for one batch until it reaches a terminal status or
// ctx ends. The persisted status is checked after subscribing and on every
// keep-alive so a stream never waits on an event it already missed.
func (h *Handler) follow(ctx context.Context, batchID uuid.UUID, sink streamSink) error {
	sub := h.progress.Subscribe(batchID)
	defer sub.Close()

	finished := func() (bool, error) {
		batch, err := h.service.Status(ctx, batchID)
		if err != nil {
			return false, err
		}
		if !batch.Status.IsTerminal() {
			return false, nil
		}
		view := newBatchView(batch)
		return true, sink.send(streamComplete, view)
	}

	if done, err := finished(); done || err != nil {
		return err
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if done, err := finished(); done || err != nil {
				return err
			}
			if err := sink.ping(); err != nil {
				return err
			}
		case event, ok := <-sub.Events():
			if !ok {
				_, err := finished()
				return err
			}
			if err := sink.send(streamProgress, event); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := streamSink{
		send: func(kind string, payload any) error {
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		ping: func() error {
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	}
	if err := h.follow(r.Context(), batch.ID, sink); err != nil {
		logging.FromContext(r.Context(), h.logger).Debug("progress stream ended", zap.Error(err))
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.loadBatch(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context(), h.logger).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close and pong control messages are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := streamSink{
		send: func(kind string, payload any) error {
			msg := streamMessage{Type: kind}
			switch v := payload.(type) {
			case domain.ProgressEvent:
				msg.Progress = &v
			case batchView:
				msg.Batch = &v
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(msg)
		},
		ping: func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		},
	}
	if err := h.follow(ctx, batch.ID, sink); err != nil {
		logging.FromContext(r.Context(), h.logger).Debug("progress socket ended", zap.Error(err))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(wsWriteWait))
}
