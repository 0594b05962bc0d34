// Package inspect exposes a live view of a trace.Bus over HTTP and
// websocket, adapted from the teacher's internal/handler/ws.WSHandler
// pump loop. Unlike the teacher's per-user delivery stream, a trace
// inspector has no per-subscriber routing key: every connected client
// sees every event, so this package skips the
// registry.Hub/Cell/Connector per-user lookup machinery entirely and
// upgrades straight into a broadcast loop.
package inspect

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/webitel/actorkit/trace"
)

// Handler upgrades HTTP connections to websockets and streams every
// trace.Event published on a trace.Bus to each connected client.
type Handler struct {
	logger   *slog.Logger
	bus      *trace.Bus
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler reading from bus. A nil logger defaults
// to slog.Default.
func NewHandler(bus *trace.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger: logger,
		bus:    bus,
		upgrader: websocket.Upgrader{
			// The inspector is a development/ops tool, not a
			// browser-facing endpoint with a fixed origin to pin down,
			// the same tradeoff the teacher's own handler takes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Mount registers the handler's routes on r under prefix.
func (h *Handler) Mount(r chi.Router, prefix string) {
	r.Get(prefix, h.ServeHTTP)
}

// ServeHTTP upgrades the connection and pumps trace.Events to it until
// the client disconnects or the request context is cancelled.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("inspect: ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.logger.Error("inspect: failed to subscribe to trace bus", "err", err)
		return
	}

	h.logger.Info("inspect: client connected", "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("inspect: failed to marshal trace event", "err", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("inspect: write failed", "err", err)
				return
			}
		}
	}
}
