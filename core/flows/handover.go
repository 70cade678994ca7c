package flows

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/logger"
	"wabot/core/outbound"
	"wabot/core/security"
	"wabot/core/session"
)

// Phrases that signal the user wants a human.
var agentKeywords = []string{
	"hablar con agente", "hablar agente", "agente humano", "soporte humano",
	"persona real", "operador", "representante", "asesor", "contactar agente",
	"ayuda urgente", "escalar",
}

// AgentHandover pauses the bot and opens an agent conversation in the
// CRM. After the handover the orchestrator forwards every client
// message to the agent thread until the conversation is reactivated.
type AgentHandover struct {
	sender outbound.Sender
	gate   *security.Gate
	bridge crm.Bridge
	now    func() time.Time
}

func NewAgentHandover(sender outbound.Sender, gate *security.Gate, bridge crm.Bridge) *AgentHandover {
	return &AgentHandover{sender: sender, gate: gate, bridge: bridge, now: time.Now}
}

func (h *AgentHandover) ID() session.FlowID { return session.FlowAgentHandover }

func (h *AgentHandover) CanHandle(_ context.Context, req *flow.Request) bool {
	if req.Data.ActiveFlow == session.FlowAgentHandover {
		return true
	}
	switch req.Body {
	case "hablar_agente", "agente", "soporte_humano", "menu_agente":
		return true
	}
	lower := strings.ToLower(req.Body)
	for _, kw := range agentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (h *AgentHandover) Handle(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	if !req.User.Authenticated {
		if err := h.sender.SendText(ctx, req.Phone(),
			"👋 ¡Hola! Quieres hablar con un agente.\n\n"+
				"👤 Si ya eres cliente, escribe tu número de cédula para autenticarte "+
				"y te conecto directamente.\n\n"+
				"📞 También puedes llamarnos: atención disponible 24/7."); err != nil {
			return flow.Declined(), err
		}
		req.Data.ActiveFlow = session.FlowAuthentication
		return flow.Handled(), nil
	}
	return h.initiate(ctx, req)
}

func (h *AgentHandover) initiate(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	req.Data.BotPaused = true
	req.Data.ConversationWithAgent = true
	req.Data.AgentLastActivity = h.now()

	snapshot := h.contextSnapshot(ctx, req)

	conv, err := h.bridge.OpenConversation(ctx, req.Phone(), snapshot)
	if err != nil {
		// Undo the pause so the bot keeps serving the user.
		req.Data.BotPaused = false
		req.Data.ConversationWithAgent = false
		req.Data.AgentLastActivity = time.Time{}
		logger.Error(ctx, "handover", "conversation.open.fail",
			slog.String("phone", logger.Sanitize(req.Phone())),
			slog.String("err", err.Error()))
		if sendErr := h.sender.SendText(ctx, req.Phone(),
			"❌ Ocurrió un error al intentar conectarte con un agente. "+
				"Por favor intenta nuevamente."); sendErr != nil {
			logger.Warn(ctx, "handover", "error_notice.send.fail",
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.String("err", sendErr.Error()))
		}
		return flow.Handled(), nil
	}
	req.Data.CRMConversationID = conv.ID

	ticket, err := h.bridge.CreateTicket(ctx, crm.Ticket{
		CustomerID:  req.User.CustomerID,
		Phone:       req.Phone(),
		Category:    "atencion_agente",
		Description: "Solicitud de atención por agente humano",
	})
	if err != nil {
		logger.Warn(ctx, "handover", "ticket.create.fail",
			slog.String("phone", logger.Sanitize(req.Phone())),
			slog.String("conversation_id", conv.ID),
			slog.String("err", err.Error()))
	} else {
		req.Data.HandoverTicketID = ticket.ID
	}

	if err := h.sender.SendText(ctx, req.Phone(),
		"👨‍💼 *Conectando con un Agente*\n\n"+
			"✅ Tu solicitud fue registrada y un agente humano atenderá "+
			"esta conversación en breve.\n\n"+
			"💬 Puedes escribir tus mensajes aquí; el agente los verá "+
			"directamente.\n\n"+
			"Escribe *finalizar* cuando quieras terminar la conversación."); err != nil {
		return flow.Declined(), err
	}

	// Best effort: losing thread control is not fatal, the agent desk
	// can still read the conversation from the CRM.
	if err := h.bridge.TransferThreadControl(ctx, req.Phone()); err != nil {
		logger.Warn(ctx, "handover", "thread_control.fail",
			slog.String("phone", logger.Sanitize(req.Phone())),
			slog.String("conversation_id", conv.ID),
			slog.String("err", err.Error()))
	}

	logger.Info(ctx, "handover", "handover.completed",
		slog.String("phone", logger.Sanitize(req.Phone())),
		slog.String("conversation_id", conv.ID))

	// The handover is done; the orchestrator owns the paused
	// conversation from here on.
	req.Data.ActiveFlow = session.FlowNone
	return flow.Handled(), nil
}

// contextSnapshot assembles what the agent sees when picking up the
// thread. The profile blob is decrypted defensively: with fail-open
// crypto the value may be plaintext or garbage, and either way the
// handover must proceed.
func (h *AgentHandover) contextSnapshot(ctx context.Context, req *flow.Request) string {
	name := "Cliente"
	if req.User.EncryptedProfile != "" {
		raw := h.gate.Decrypt(req.User.EncryptedProfile)
		var profile struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(raw), &profile); err == nil && profile.Name != "" {
			name = profile.Name
		} else {
			logger.Warn(ctx, "handover", "profile.decode.fail",
				slog.String("phone", logger.Sanitize(req.Phone())))
		}
	}

	snap := map[string]any{
		"customer_name": name,
		"customer_id":   req.User.CustomerID,
		"phone":         req.Phone(),
		"requested_at":  h.now().Format(time.RFC3339),
		"last_message":  req.Body,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return "{}"
	}
	return string(b)
}
