// Package orchestrator ties the screening layers together: every inbound
// message passes the mode gate, the rate limiter, and the block check
// before any flow sees it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/logger"
	"wabot/core/message"
	"wabot/core/outbound"
	"wabot/core/registry"
	"wabot/core/security"
	"wabot/core/session"
	"wabot/core/user"
)

const fallbackText = "🤔 No entendí tu mensaje.\n\n" +
	"Escribe *menu* para ver las opciones disponibles o *finalizar* para terminar la conversación."

const reactivatedText = "🤖 El agente finalizó la atención. He retomado la conversación.\n\n" +
	"Escribe *menu* para ver las opciones disponibles."

const sessionLapsedText = "🔐 Tu sesión expiró por seguridad.\n\n" +
	"Ingresa tu número de cédula para autenticarte de nuevo:"

// Options carries the orchestrator collaborators. All fields are
// required except AgentIdleTimeout, which defaults to 30 minutes.
type Options struct {
	Registry   *registry.Registry
	Gate       *security.Gate
	Users      *user.Store
	Sessions   *session.Store
	Dispatcher *flow.Dispatcher
	Sender     outbound.Sender
	Bridge     crm.Bridge

	AgentIdleTimeout time.Duration
}

// Orchestrator processes one inbound message at a time per phone.
type Orchestrator struct {
	opts Options
	now  func() time.Time
}

func New(opts Options) *Orchestrator {
	if opts.AgentIdleTimeout <= 0 {
		opts.AgentIdleTimeout = 30 * time.Minute
	}
	return &Orchestrator{opts: opts, now: time.Now}
}

// Process screens and dispatches one message. Screening failures are
// terminal: the user gets at most one notice and the message is dropped.
func (o *Orchestrator) Process(ctx context.Context, msg message.Inbound) error {
	ctx = logger.WithPhone(ctx, msg.From)
	start := o.now()

	// 1. Mode gate.
	switch mode := o.opts.Registry.Mode(); mode {
	case registry.ModePaused, registry.ModeError:
		logger.Info(ctx, "orchestrator", "message.dropped",
			slog.String("mode", string(mode)))
		return nil
	case registry.ModeMaintenance:
		o.send(ctx, msg.From, o.opts.Registry.MaintenanceResponse())
		return nil
	}
	o.opts.Registry.IncrementProcessed()

	// 2. Rate limit.
	if res := o.opts.Gate.CheckRateLimit(msg.From); !res.Allowed {
		wait := int(math.Ceil(res.ResetAt.Sub(o.now()).Minutes()))
		if wait < 1 {
			wait = 1
		}
		o.send(ctx, msg.From, fmt.Sprintf(
			"⚠️ Estás enviando mensajes muy rápido.\n\nEspera %d minuto(s) e intenta de nuevo.", wait))
		logger.Warn(ctx, "orchestrator", "rate.limited",
			slog.Int("remaining", res.Remaining))
		return nil
	}

	// 3. Auth block.
	if blocked, mins := o.opts.Gate.IsBlocked(msg.From); blocked {
		o.send(ctx, msg.From, fmt.Sprintf(
			"🔒 Tu acceso está bloqueado temporalmente.\n\nIntenta de nuevo en %d minuto(s).", mins))
		return nil
	}

	// 4. User and session records.
	u := o.opts.Users.GetOrCreate(msg.From)
	u.LastActivity = o.now()
	data := o.opts.Sessions.Get(msg.From)

	// 5. Agent conversation in progress.
	if data.BotPaused && data.ConversationWithAgent {
		if o.now().Sub(data.AgentLastActivity) > o.opts.AgentIdleTimeout {
			data.BotPaused = false
			data.ConversationWithAgent = false
			data.CRMConversationID = ""
			data.AgentLastActivity = time.Time{}
			o.send(ctx, msg.From, reactivatedText)
			logger.Info(ctx, "orchestrator", "bot.reactivated")
			// Fall through: the bot serves this message normally.
		} else {
			if err := o.opts.Bridge.AppendClientMessage(ctx, data.CRMConversationID, msg.Body()); err != nil {
				logger.Error(ctx, "orchestrator", "agent.forward.fail",
					slog.String("conversation_id", data.CRMConversationID),
					slog.String("err", err.Error()))
			}
			return nil
		}
	}

	// 6. Security-session lapse forces re-authentication.
	if u.Authenticated && !o.opts.Gate.ValidateSession(u.SessionToken, u.Phone) {
		u.Authenticated = false
		u.SessionToken = ""
		u.CustomerID = ""
		data.ResetFlowState()
		o.send(ctx, msg.From, sessionLapsedText)
		logger.Info(ctx, "orchestrator", "session.lapsed")
		return nil
	}

	// 7. Normalize and dispatch.
	req := &flow.Request{
		Msg:  msg,
		Body: normalizeBody(msg),
		User: u,
		Data: data,
	}
	if handled := o.opts.Dispatcher.Dispatch(ctx, req); !handled {
		o.send(ctx, msg.From, fallbackText)
		logger.Debug(ctx, "orchestrator", "message.unhandled")
	}

	logger.Debug(ctx, "orchestrator", "message.processed",
		slog.Duration("duration", time.Since(start)))
	return nil
}

// normalizeBody collapses the supported payload shapes onto dispatch
// text. Command synonyms are left for the dispatcher; only the payment
// button variants are canonicalized here because they arrive in several
// flattened forms.
func normalizeBody(msg message.Inbound) string {
	body := msg.Body()
	if cmd := message.ExtractCommand(body); cmd == "validar_pago" {
		return "validar_pago"
	}
	return body
}

func (o *Orchestrator) send(ctx context.Context, to, text string) {
	if err := o.opts.Sender.SendText(ctx, to, text); err != nil {
		logger.Warn(ctx, "orchestrator", "notice.send.fail",
			slog.String("phone", logger.Sanitize(to)),
			slog.String("err", err.Error()))
	}
}
