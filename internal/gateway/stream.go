// ABOUTME: Server-Sent Events stream for live dashboard updates
// ABOUTME: Replays recent events on connect and heartbeats idle connections

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxplane/voxplane/internal/auth"
	"github.com/voxplane/voxplane/internal/hub"
)

// heartbeatInterval keeps intermediaries from closing idle SSE connections.
const heartbeatInterval = 15 * time.Second

// handleStream processes GET /api/stream. Each connected dashboard gets the
// replay ring first, then live events until it disconnects. Delivery is
// best-effort; a reconnecting client re-reads state from the API.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identity := auth.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = identity.Operator
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, subID := g.hub.Subscribe(r.Context(), identity.OrgID)
	g.logger.Info("stream client connected",
		"org_id", identity.OrgID, "client_id", clientID, "sub_id", subID)

	for _, ev := range g.hub.Recent(identity.OrgID) {
		g.writeSSEEvent(w, ev)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			g.logger.Info("stream client disconnected",
				"org_id", identity.OrgID, "client_id", clientID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev)
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				g.logger.Debug("heartbeat write failed, dropping stream client",
					"org_id", identity.OrgID, "client_id", clientID)
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event frame:
// event: <type>\ndata: <json>\n\n
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, ev *hub.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
