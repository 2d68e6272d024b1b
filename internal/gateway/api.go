// ABOUTME: HTTP API handlers for the operator dashboard
// ABOUTME: Covers takeover join/leave/send, active sessions and org stats

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/voxplane/voxplane/internal/auth"
	"github.com/voxplane/voxplane/internal/control"
	"github.com/voxplane/voxplane/internal/store"
)

// JoinRequest is the JSON request body for POST /api/control/join.
type JoinRequest struct {
	LeadID string `json:"lead_id"`
}

// JoinResponse is the JSON response for a takeover attempt. On conflict the
// body carries who holds control; the status code is 409.
type JoinResponse struct {
	Status       string `json:"status"`
	Operator     string `json:"operator,omitempty"`
	ControlledBy string `json:"controlled_by,omitempty"`
}

// LeaveRequest is the JSON request body for POST /api/control/leave.
type LeaveRequest struct {
	LeadID string `json:"lead_id"`
}

// SendRequest is the JSON request body for POST /api/control/send.
type SendRequest struct {
	LeadID  string `json:"lead_id"`
	Channel string `json:"channel,omitempty"`
	Content string `json:"content"`
}

// SendResponse is the JSON response for a delivered operator message.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// ControlSessionResponse is one entry in GET /api/control/sessions.
type ControlSessionResponse struct {
	LeadID    string `json:"lead_id"`
	Operator  string `json:"operator"`
	StartedAt string `json:"started_at"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	TotalSessions     int `json:"total_sessions"`
	ActiveSessions    int `json:"active_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	FailedSessions    int `json:"failed_sessions"`
	HumanControlled   int `json:"human_controlled"`
}

// handleJoin processes POST /api/control/join. Losing the takeover race is
// reported as 409 with the holder's name, not as an error.
func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	identity, ok := g.requirePost(w, r)
	if !ok {
		return
	}

	var req JoinRequest
	if err := decodeBody(r.Body, &req); err != nil || req.LeadID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	if !g.leadExists(w, r, identity.OrgID, req.LeadID) {
		return
	}

	result, err := g.control.Join(r.Context(), identity.OrgID, req.LeadID, identity.Operator)
	if err != nil {
		g.logger.Error("join failed", "lead_id", req.LeadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "join failed")
		return
	}

	if !result.Acquired {
		g.sendJSON(w, http.StatusConflict, JoinResponse{
			Status:       "conflict",
			ControlledBy: result.Owner,
		})
		return
	}
	g.sendJSON(w, http.StatusOK, JoinResponse{Status: "ok", Operator: identity.Operator})
}

// handleLeave processes POST /api/control/leave. Always succeeds: leaving a
// conversation you do not control is a no-op.
func (g *Gateway) handleLeave(w http.ResponseWriter, r *http.Request) {
	identity, ok := g.requirePost(w, r)
	if !ok {
		return
	}

	var req LeaveRequest
	if err := decodeBody(r.Body, &req); err != nil || req.LeadID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	if err := g.control.Leave(r.Context(), identity.OrgID, req.LeadID, identity.Operator); err != nil {
		g.logger.Error("leave failed", "lead_id", req.LeadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "leave failed")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSend processes POST /api/control/send.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	identity, ok := g.requirePost(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := decodeBody(r.Body, &req); err != nil || req.LeadID == "" || req.Content == "" {
		g.sendJSONError(w, http.StatusBadRequest, "lead_id and content are required")
		return
	}
	if req.Channel == "" {
		req.Channel = store.ChannelSMS
	}
	if req.Channel != store.ChannelSMS && req.Channel != store.ChannelVoice {
		g.sendJSONError(w, http.StatusBadRequest, "unknown channel")
		return
	}

	msg, err := g.control.SendMessage(r.Context(), identity.OrgID, req.LeadID, identity.Operator, req.Channel, req.Content)
	if errors.Is(err, control.ErrNotControlled) {
		g.sendJSON(w, http.StatusConflict, JoinResponse{Status: "conflict"})
		return
	}
	if err != nil {
		g.logger.Error("send failed", "lead_id", req.LeadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "send failed")
		return
	}
	g.sendJSON(w, http.StatusOK, SendResponse{Status: "ok", MessageID: msg.ID})
}

// handleActiveSessions processes GET /api/control/sessions.
func (g *Gateway) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identity := auth.FromContext(r.Context())

	grants, err := g.control.ActiveSessions(r.Context(), identity.OrgID)
	if err != nil {
		g.logger.Error("listing control sessions failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	out := make([]ControlSessionResponse, 0, len(grants))
	for _, grant := range grants {
		out = append(out, ControlSessionResponse{
			LeadID:    grant.LeadID,
			Operator:  grant.Operator,
			StartedAt: grant.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleStats processes GET /api/stats. A reconciliation sweep runs first
// so the counts reflect reality rather than drift.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identity := auth.FromContext(r.Context())

	if _, err := g.reconciler.Sweep(r.Context()); err != nil {
		g.logger.Warn("pre-stats sweep failed", "error", err)
	}

	stats, err := g.store.GetSessionStats(r.Context(), identity.OrgID)
	if err != nil {
		g.logger.Error("stats query failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	g.sendJSON(w, http.StatusOK, StatsResponse{
		TotalSessions:     stats.TotalSessions,
		ActiveSessions:    stats.ActiveSessions,
		CompletedSessions: stats.CompletedSessions,
		FailedSessions:    stats.FailedSessions,
		HumanControlled:   stats.HumanControlled,
	})
}

// requirePost checks the method and returns the authenticated identity.
func (g *Gateway) requirePost(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	identity := auth.FromContext(r.Context())
	if identity == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	return identity, true
}

// leadExists verifies the lead belongs to the caller's organization,
// writing a 404 when it does not.
func (g *Gateway) leadExists(w http.ResponseWriter, r *http.Request, orgID, leadID string) bool {
	_, err := g.store.GetLead(r.Context(), orgID, leadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "lead not found")
		return false
	}
	if err != nil {
		g.logger.Error("lead lookup failed", "lead_id", leadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "lookup failed")
		return false
	}
	return true
}

func decodeBody(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
