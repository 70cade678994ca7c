package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wabot/core/logger"
	"wabot/core/registry"
	"wabot/core/session"
)

type statusResponse struct {
	Mode           string    `json:"mode"`
	EnabledFlows   []string  `json:"enabled_flows"`
	Processed      uint64    `json:"messages_processed"`
	Errors         uint64    `json:"errors_count"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	ActiveSessions int       `json:"active_sessions"`
	KnownPhones    int       `json:"known_phones"`
	BlockedPhones  int       `json:"blocked_phones"`
	SecureSessions int       `json:"secure_sessions"`
	RateTracked    int       `json:"rate_tracked"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	m := h.reg.Snapshot()
	sec := h.gate.Snapshot()

	flows := h.reg.EnabledFlows()
	names := make([]string, 0, len(flows))
	for _, f := range flows {
		names = append(names, string(f))
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Mode:           string(h.reg.Mode()),
		EnabledFlows:   names,
		Processed:      m.MessagesProcessed,
		Errors:         m.ErrorsCount,
		StartTime:      m.StartTime,
		LastActivity:   m.LastActivity,
		ActiveSessions: h.sessions.Len(),
		KnownPhones:    h.users.Len(),
		BlockedPhones:  sec.BlockedPhones,
		SecureSessions: sec.ActiveSessions,
		RateTracked:    sec.TrackedRates,
	})
}

type modeRequest struct {
	Mode    string `json:"mode"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	switch registry.Mode(req.Mode) {
	case registry.ModeRunning, registry.ModePaused, registry.ModeMaintenance, registry.ModeError:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown mode"})
		return
	}
	if req.Message != "" {
		h.reg.SetMaintenanceMessage(req.Message)
	}
	h.reg.SetMode(registry.Mode(req.Mode))
	logger.Info(r.Context(), "admin", "mode.changed", slog.String("mode", req.Mode))
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

func (h *Handler) setFlow(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := session.FlowID(chi.URLParam(r, "flowID"))
		switch id {
		case session.FlowMainMenu, session.FlowAuthentication,
			session.FlowTicketCreation, session.FlowAgentHandover:
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown flow"})
			return
		}
		if enable {
			h.reg.EnableFlow(id)
		} else {
			h.reg.DisableFlow(id)
		}
		logger.Info(r.Context(), "admin", "flow.toggled",
			slog.String("flow", string(id)),
			slog.Bool("enabled", enable))
		writeJSON(w, http.StatusOK, map[string]any{"flow": id, "enabled": enable})
	}
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

func (h *Handler) logs(w http.ResponseWriter, _ *http.Request) {
	ring := h.reg.Logs()
	out := make([]logEntry, len(ring))
	for i, e := range ring {
		out[i] = logEntry{Timestamp: e.Timestamp, Level: e.Level, Message: e.Message}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "logs": out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
