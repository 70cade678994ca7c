// Package webhook is the inbound HTTP surface: the Meta webhook
// endpoints plus a small JSON admin API for operators.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wabot/core/config"
	"wabot/core/logger"
	"wabot/core/message"
	"wabot/core/orchestrator"
	"wabot/core/registry"
	"wabot/core/security"
	"wabot/core/session"
	"wabot/core/user"
)

const maxPayloadBytes = 1 << 20

// Handler owns the HTTP routes.
type Handler struct {
	cfg      config.WhatsAppConfig
	orch     *orchestrator.Orchestrator
	reg      *registry.Registry
	gate     *security.Gate
	sessions *session.Store
	users    *user.Store
}

func NewHandler(cfg config.WhatsAppConfig, orch *orchestrator.Orchestrator, reg *registry.Registry,
	gate *security.Gate, sessions *session.Store, users *user.Store) *Handler {
	return &Handler{cfg: cfg, orch: orch, reg: reg, gate: gate, sessions: sessions, users: users}
}

// Router builds the chi mux with webhook and admin routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/webhook", h.verify)
	r.Post("/webhook", h.receive)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/mode", h.setMode)
		r.Post("/flows/{flowID}/enable", h.setFlow(true))
		r.Post("/flows/{flowID}/disable", h.setFlow(false))
		r.Get("/logs", h.logs)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify answers the Meta subscription handshake.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.cfg.VerifyToken {
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	logger.Warn(r.Context(), "webhook", "verify.rejected")
	http.Error(w, "forbidden", http.StatusForbidden)
}

// Cloud API webhook payload, trimmed to what the bot consumes.
type notification struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage  `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *struct{ ID string `json:"id"` } `json:"image"`
	Document *struct{ ID string `json:"id"` } `json:"document"`
	Audio    *struct{ ID string `json:"id"` } `json:"audio"`
}

// receive decodes the webhook payload and hands each customer message
// to the orchestrator. Status updates are acknowledged and dropped.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		logger.Warn(r.Context(), "webhook", "payload.decode.fail",
			slog.String("err", err.Error()))
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	start := time.Now()
	count := 0
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, im := range change.Value.Messages {
				msg, ok := toInbound(im)
				if !ok {
					continue
				}
				count++
				if err := h.orch.Process(r.Context(), msg); err != nil {
					logger.Error(r.Context(), "webhook", "process.fail",
						slog.String("phone", logger.Sanitize(msg.From)),
						slog.String("err", err.Error()))
				}
			}
		}
	}
	if count > 0 {
		logger.Debug(r.Context(), "webhook", "batch.processed",
			slog.Int("count", count),
			slog.Duration("duration", time.Since(start)))
	}
	w.WriteHeader(http.StatusOK)
}

func toInbound(im inboundMessage) (message.Inbound, bool) {
	if im.From == "" {
		return message.Inbound{}, false
	}
	msg := message.Inbound{
		ID:        im.ID,
		From:      im.From,
		Timestamp: im.Timestamp,
		Type:      im.Type,
	}
	switch im.Type {
	case "text":
		if im.Text != nil {
			msg.Text = im.Text.Body
		}
	case "interactive":
		if im.Interactive == nil {
			return message.Inbound{}, false
		}
		if br := im.Interactive.ButtonReply; br != nil {
			msg.ButtonID = br.ID
			msg.Text = br.Title
		}
		if lr := im.Interactive.ListReply; lr != nil {
			msg.ButtonID = lr.ID
			msg.Text = lr.Title
		}
	case "image":
		if im.Image != nil {
			msg.MediaID = im.Image.ID
		}
	case "document":
		if im.Document != nil {
			msg.MediaID = im.Document.ID
		}
	case "audio":
		if im.Audio != nil {
			msg.MediaID = im.Audio.ID
		}
	default:
		return message.Inbound{}, false
	}
	return msg, true
}
