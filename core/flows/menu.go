// Package flows contains the conversation flows wired into the dispatch
// chain: authentication, the main menu, guided ticket creation with
// self-help, and the agent handover.
package flows

import (
	"context"

	"wabot/core/flow"
	"wabot/core/outbound"
	"wabot/core/session"
)

// Menu selection ids, also accepted as flattened text.
const (
	menuOptTicket = "menu_soporte"
	menuOptAgente = "menu_agente"
	menuOptEstado = "menu_estado"
)

// MainMenu shows the authenticated menu and routes selections to the
// matching flow via delegation.
type MainMenu struct {
	sender outbound.Sender
}

func NewMainMenu(sender outbound.Sender) *MainMenu {
	return &MainMenu{sender: sender}
}

func (m *MainMenu) ID() session.FlowID { return session.FlowMainMenu }

func (m *MainMenu) CanHandle(_ context.Context, req *flow.Request) bool {
	if !req.User.Authenticated {
		return false
	}
	switch req.Body {
	case menuOptTicket, menuOptAgente, menuOptEstado:
		return true
	}
	return req.Data.ActiveFlow == session.FlowMainMenu
}

func (m *MainMenu) Handle(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	switch req.Body {
	case menuOptTicket:
		// The ticket flow takes over with the same message.
		req.Body = "crear_ticket"
		return flow.DelegateTo(session.FlowTicketCreation), nil
	case menuOptAgente:
		return flow.DelegateTo(session.FlowAgentHandover), nil
	case menuOptEstado:
		if err := m.sender.SendText(ctx, req.Phone(),
			"📊 Tu servicio se encuentra *activo*.\n\nEscribe *menu* para ver las opciones."); err != nil {
			return flow.Declined(), err
		}
		req.Data.ResetFlowState()
		return flow.Handled(), nil
	}
	return m.send(ctx, req)
}

// send re-sends the menu list; any unrecognized input while the menu is
// active lands here.
func (m *MainMenu) send(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	name := req.Data.ClientName
	body := "¿En qué puedo ayudarte hoy?"
	if name != "" {
		body = "Hola " + name + ", ¿en qué puedo ayudarte hoy?"
	}
	menu := outbound.ListMenu("🤖 Menú Principal", body, "Ver Opciones",
		outbound.Row{ID: menuOptTicket, Title: "🎫 Soporte Técnico", Description: "Crear un ticket de soporte"},
		outbound.Row{ID: menuOptEstado, Title: "📊 Estado del Servicio", Description: "Consultar tu servicio"},
		outbound.Row{ID: menuOptAgente, Title: "👤 Hablar con Agente", Description: "Atención personalizada"},
	)
	if err := m.sender.SendInteractive(ctx, req.Phone(), menu); err != nil {
		return flow.Declined(), err
	}
	req.Data.ActiveFlow = session.FlowMainMenu
	return flow.Handled(), nil
}
