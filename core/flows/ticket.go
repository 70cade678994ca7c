package flows

import (
	"context"
	"log/slog"
	"strings"

	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/logger"
	"wabot/core/outbound"
	"wabot/core/session"
)

const minDescriptionLen = 10

var categoryNames = map[string]string{
	"sin_internet":    "Sin Internet",
	"internet_lento":  "Internet Lento",
	"intermitente":    "Conexión Intermitente",
	"router_problema": "Problema con Router",
	"cables_danados":  "Cables Dañados",
	"configuracion":   "Configuración de Red",
	"facturacion":     "Facturación",
	"otro":            "Otro Problema",
}

// First-tier self-help tips shown right after category selection.
var selfHelpTips = map[string]string{
	"sin_internet": "1️⃣ Desconecta el router de la corriente por 30 segundos\n" +
		"2️⃣ Vuelve a conectarlo y espera 2 minutos\n" +
		"3️⃣ Verifica que las luces del router estén encendidas",
	"internet_lento": "1️⃣ Desconecta dispositivos que no estés usando\n" +
		"2️⃣ Acércate al router o usa cable de red\n" +
		"3️⃣ Reinicia el router y prueba de nuevo",
	"intermitente": "1️⃣ Revisa que el cable de fibra no esté doblado\n" +
		"2️⃣ Reinicia el router\n" +
		"3️⃣ Prueba con un solo dispositivo conectado",
	"router_problema": "1️⃣ Verifica que el router esté conectado a la corriente\n" +
		"2️⃣ Revisa el estado de las luces indicadoras\n" +
		"3️⃣ Reinícialo manteniendo el botón de encendido 10 segundos",
}

// Second-tier tips for when the first round did not help.
var selfHelpStep2Tips = map[string]string{
	"sin_internet": "1️⃣ Verifica que el cable de fibra esté bien conectado al router\n" +
		"2️⃣ Restaura el router a fábrica con el botón reset (10 segundos)\n" +
		"3️⃣ Prueba conectando un equipo directamente por cable",
	"internet_lento": "1️⃣ Haz una prueba de velocidad por cable directo al router\n" +
		"2️⃣ Cambia el canal WiFi desde la configuración del router\n" +
		"3️⃣ Verifica si la lentitud ocurre a horas específicas",
	"intermitente": "1️⃣ Revisa los conectores del cable de fibra en busca de daños\n" +
		"2️⃣ Anota a qué horas se presentan los cortes\n" +
		"3️⃣ Desactiva y reactiva el WiFi del router",
	"router_problema": "1️⃣ Prueba con otro cargador o toma de corriente\n" +
		"2️⃣ Restaura valores de fábrica con el botón reset\n" +
		"3️⃣ Si no enciende ninguna luz, el equipo puede estar dañado",
}

var resolvedWords = []string{
	"ya funcionó", "ya funciono", "funciona", "se solucionó", "se soluciono",
	"resuelto", "solucionado", "listo",
}

var notWorkingWords = []string{
	"no funcionó", "no funciono", "no funciona", "sigue igual",
	"sigue sin funcionar", "persiste", "nada",
}

// TicketCreation walks the user through category selection, two rounds
// of guided self-help, and finally opens a ticket when the problem
// persists. Resolving at any self-help step ends without a ticket.
type TicketCreation struct {
	sender outbound.Sender
	bridge crm.Bridge
}

func NewTicketCreation(sender outbound.Sender, bridge crm.Bridge) *TicketCreation {
	return &TicketCreation{sender: sender, bridge: bridge}
}

func (t *TicketCreation) ID() session.FlowID { return session.FlowTicketCreation }

func (t *TicketCreation) CanHandle(_ context.Context, req *flow.Request) bool {
	if !req.User.Authenticated {
		return false
	}
	return req.Body == "crear_ticket" || req.Body == "ticket_crear" ||
		req.Data.ActiveFlow == session.FlowTicketCreation
}

func (t *TicketCreation) Handle(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	if req.Data.ActiveFlow != session.FlowTicketCreation {
		return t.start(ctx, req)
	}
	switch req.Data.Step {
	case session.StepCategory:
		return t.handleCategory(ctx, req)
	case session.StepSelfHelp:
		return t.handleSelfHelp(ctx, req, session.StepSelfHelpStep2, selfHelpStep2Tips)
	case session.StepSelfHelpStep2:
		return t.handleSelfHelp(ctx, req, session.StepProblemPersists, nil)
	case session.StepProblemPersists:
		return t.handleProblemPersists(ctx, req)
	case session.StepDescription:
		return t.handleDescription(ctx, req)
	default:
		return t.start(ctx, req)
	}
}

func (t *TicketCreation) start(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	req.Data.ActiveFlow = session.FlowTicketCreation
	req.Data.Step = session.StepCategory

	greeting := "Vamos a crear un ticket de soporte técnico para resolver tu problema."
	if req.Data.ClientName != "" {
		greeting = "Hola " + req.Data.ClientName + ", vamos a crear un ticket de soporte técnico para resolver tu problema."
	}
	menu := outbound.ListMenu("🎫 Crear Ticket de Soporte",
		greeting+"\n\n🔧 Selecciona la categoría que mejor describe tu situación:",
		"Seleccionar Categoría",
		outbound.Row{ID: "sin_internet", Title: "🚫 Sin Internet", Description: "No hay conexión a internet"},
		outbound.Row{ID: "internet_lento", Title: "🐌 Internet Lento", Description: "Velocidad menor a la contratada"},
		outbound.Row{ID: "intermitente", Title: "📶 Conexión Intermitente", Description: "Se corta constantemente"},
		outbound.Row{ID: "router_problema", Title: "📡 Problema con Router", Description: "Router no funciona correctamente"},
		outbound.Row{ID: "cables_danados", Title: "🔌 Cables Dañados", Description: "Problemas físicos de cableado"},
		outbound.Row{ID: "configuracion", Title: "⚙️ Configuración", Description: "Ayuda con configuración de red"},
		outbound.Row{ID: "facturacion", Title: "💰 Facturación", Description: "Problemas con cobros"},
		outbound.Row{ID: "otro", Title: "❓ Otro", Description: "Problema diferente"},
	)
	if err := t.sender.SendInteractive(ctx, req.Phone(), menu); err != nil {
		return flow.Declined(), err
	}
	return flow.Handled(), nil
}

func (t *TicketCreation) handleCategory(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	name, ok := categoryNames[req.Body]
	if !ok {
		if err := t.sender.SendText(ctx, req.Phone(),
			"❌ Categoría no válida. Por favor, selecciona una opción del menú."); err != nil {
			return flow.Declined(), err
		}
		return flow.Handled(), nil
	}
	req.Data.Category = req.Body

	// Categories without guided tips go straight to the description.
	tips, hasTips := selfHelpTips[req.Body]
	if !hasTips {
		req.Data.Step = session.StepDescription
		return t.promptDescription(ctx, req, name)
	}

	req.Data.Step = session.StepSelfHelp
	if err := t.sender.SendInteractive(ctx, req.Phone(), outbound.ReplyButtons(
		"🔧 *"+name+"*\n\nAntes de crear el ticket, intenta estos pasos:\n\n"+tips+
			"\n\n¿Se solucionó tu problema?",
		outbound.ButtonReply{ID: "selfhelp_si", Title: "✅ Ya funcionó"},
		outbound.ButtonReply{ID: "selfhelp_no", Title: "❌ No funcionó"},
	)); err != nil {
		return flow.Declined(), err
	}
	return flow.Handled(), nil
}

// handleSelfHelp resolves one self-help round. A resolved answer ends
// the flow without a ticket; a not-working answer advances to the next
// step; anything else re-prompts without advancing.
func (t *TicketCreation) handleSelfHelp(ctx context.Context, req *flow.Request, next session.Step, tips map[string]string) (flow.Outcome, error) {
	switch classifySelfHelpAnswer(req.Body) {
	case answerResolved:
		req.Data.ResetFlowState()
		if err := t.sender.SendText(ctx, req.Phone(),
			"🎉 ¡Excelente! Me alegra que se haya solucionado.\n\n"+
				"Escribe *menu* si necesitas algo más."); err != nil {
			return flow.Declined(), err
		}
		return flow.Handled(), nil

	case answerNotWorking:
		req.Data.Step = next
		if next == session.StepProblemPersists {
			if err := t.sender.SendInteractive(ctx, req.Phone(), outbound.ReplyButtons(
				"😔 Lamento que el problema continúe.\n\n"+
					"Un técnico revisará tu caso. ¿Deseas crear el ticket de soporte?",
				outbound.ButtonReply{ID: "ticket_confirmar", Title: "📝 Crear Ticket"},
				outbound.ButtonReply{ID: "ticket_cancelar", Title: "❌ Cancelar"},
			)); err != nil {
				return flow.Declined(), err
			}
			return flow.Handled(), nil
		}
		extra := tips[req.Data.Category]
		if err := t.sender.SendInteractive(ctx, req.Phone(), outbound.ReplyButtons(
			"🔧 Probemos algo más avanzado:\n\n"+extra+"\n\n¿Se solucionó tu problema?",
			outbound.ButtonReply{ID: "selfhelp_si", Title: "✅ Ya funcionó"},
			outbound.ButtonReply{ID: "selfhelp_no", Title: "❌ No funcionó"},
		)); err != nil {
			return flow.Declined(), err
		}
		return flow.Handled(), nil
	}

	// Unrecognized input never advances the state machine.
	if err := t.sender.SendText(ctx, req.Phone(),
		"❓ No entendí tu respuesta. Por favor, usa los botones: "+
			"*Ya funcionó* o *No funcionó*."); err != nil {
		return flow.Declined(), err
	}
	return flow.Handled(), nil
}

func (t *TicketCreation) handleProblemPersists(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	switch req.Body {
	case "ticket_confirmar":
		req.Data.Step = session.StepDescription
		return t.promptDescription(ctx, req, categoryNames[req.Data.Category])
	case "ticket_cancelar":
		req.Data.ResetFlowState()
		if err := t.sender.SendText(ctx, req.Phone(),
			"❌ Creación de ticket cancelada.\n\n"+
				"Escribe *menu* si necesitas ayuda más tarde."); err != nil {
			return flow.Declined(), err
		}
		return flow.Handled(), nil
	}
	if err := t.sender.SendText(ctx, req.Phone(),
		"❓ No entendí tu respuesta. Por favor, selecciona *Crear Ticket* o *Cancelar*."); err != nil {
		return flow.Declined(), err
	}
	return flow.Handled(), nil
}

func (t *TicketCreation) promptDescription(ctx context.Context, req *flow.Request, categoryName string) (flow.Outcome, error) {
	if err := t.sender.SendText(ctx, req.Phone(),
		"📝 Perfecto, seleccionaste: *"+categoryName+"*\n\n"+
			"Ahora describe detalladamente tu problema:\n\n"+
			"💡 Incluye información importante:\n"+
			"• ¿Cuándo comenzó el problema?\n"+
			"• ¿Con qué frecuencia ocurre?\n"+
			"• ¿Qué has intentado para solucionarlo?\n\n"+
			"✍️ Escribe tu descripción completa:"); err != nil {
		return flow.Declined(), err
	}
	return flow.Handled(), nil
}

func (t *TicketCreation) handleDescription(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	if len(strings.TrimSpace(req.Body)) < minDescriptionLen {
		if err := t.sender.SendText(ctx, req.Phone(),
			"❌ La descripción es muy corta. Por favor, proporciona más "+
				"detalles para que podamos ayudarte mejor."); err != nil {
			return flow.Declined(), err
		}
		return flow.Handled(), nil
	}
	req.Data.Description = req.Body

	ticket, err := t.bridge.CreateTicket(ctx, crm.Ticket{
		CustomerID:  req.User.CustomerID,
		Phone:       req.Phone(),
		Category:    req.Data.Category,
		Description: req.Data.Description,
	})
	if err != nil {
		// The user already got a reply, so the message counts as
		// handled; surfacing the error would re-run the chain.
		req.Data.ResetFlowState()
		logger.Error(ctx, "ticket", "ticket.create.fail",
			slog.String("phone", logger.Sanitize(req.Phone())),
			slog.String("err", err.Error()))
		if sendErr := t.sender.SendText(ctx, req.Phone(),
			"❌ Error al crear el ticket. Por favor, intenta nuevamente en unos minutos."); sendErr != nil {
			logger.Warn(ctx, "ticket", "error_notice.send.fail",
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.String("err", sendErr.Error()))
		}
		return flow.Handled(), nil
	}

	logger.Info(ctx, "ticket", "ticket.submitted",
		slog.String("phone", logger.Sanitize(req.Phone())),
		slog.String("ticket_id", ticket.ID))

	if err := t.sender.SendText(ctx, req.Phone(),
		"🎉 *¡Ticket Creado Exitosamente!*\n\n"+
			"🔍 Ticket ID: "+ticket.ID+"\n"+
			"📂 Categoría: "+categoryNames[req.Data.Category]+"\n\n"+
			"👨‍💻 Próximos pasos:\n"+
			"• Tu ticket será revisado por nuestro equipo técnico\n"+
			"• Recibirás actualizaciones por WhatsApp\n"+
			"• Tiempo estimado de respuesta: 2-4 horas"); err != nil {
		return flow.Declined(), err
	}

	req.Data.ResetFlowState()
	return flow.DelegateTo(session.FlowMainMenu), nil
}

type selfHelpAnswer int

const (
	answerUnknown selfHelpAnswer = iota
	answerResolved
	answerNotWorking
)

func classifySelfHelpAnswer(body string) selfHelpAnswer {
	s := strings.ToLower(strings.TrimSpace(body))
	switch s {
	case "selfhelp_si":
		return answerResolved
	case "selfhelp_no":
		return answerNotWorking
	}
	// Not-working phrases are checked first: "no funcionó" must never
	// match the bare "funciona" in the resolved set.
	for _, w := range notWorkingWords {
		if strings.Contains(s, w) {
			return answerNotWorking
		}
	}
	for _, w := range resolvedWords {
		if strings.Contains(s, w) {
			return answerResolved
		}
	}
	return answerUnknown
}
