package flows

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wabot/core/config"
	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/message"
	"wabot/core/outbound"
	"wabot/core/security"
	"wabot/core/session"
	"wabot/core/user"
)

type fakeSender struct {
	texts        []string
	interactives []outbound.Interactive
}

func (f *fakeSender) SendText(_ context.Context, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendInteractive(_ context.Context, _ string, iv outbound.Interactive) error {
	f.interactives = append(f.interactives, iv)
	return nil
}

func (f *fakeSender) lastText() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeBridge struct {
	customers     map[string]*crm.Customer
	tickets       []crm.Ticket
	conversations []crm.Conversation
	appended      []string
	transferErr   error
	transferred   int
}

func (b *fakeBridge) AuthenticateCustomer(_ context.Context, phone, document string) (*crm.Customer, error) {
	c, ok := b.customers[document]
	if !ok {
		return nil, crm.ErrNotFound
	}
	out := *c
	out.Phone = phone
	return &out, nil
}

func (b *fakeBridge) CreateTicket(_ context.Context, t crm.Ticket) (*crm.Ticket, error) {
	t.ID = "TK-1001"
	t.Status = "open"
	b.tickets = append(b.tickets, t)
	return &t, nil
}

func (b *fakeBridge) OpenConversation(_ context.Context, phone, snapshot string) (*crm.Conversation, error) {
	c := crm.Conversation{ID: "CONV-7", Phone: phone, Context: snapshot, Status: "open"}
	b.conversations = append(b.conversations, c)
	return &c, nil
}

func (b *fakeBridge) AppendClientMessage(_ context.Context, conversationID, text string) error {
	b.appended = append(b.appended, conversationID+":"+text)
	return nil
}

func (b *fakeBridge) TransferThreadControl(context.Context, string) error {
	b.transferred++
	return b.transferErr
}

func testGate(t *testing.T) *security.Gate {
	t.Helper()
	g, err := security.NewGate(config.SecurityConfig{
		EncryptionKey:   "flows-test-key",
		MaxAuthAttempts: 3,
		BlockDuration:   15 * time.Minute,
		RateLimitWindow: time.Minute,
		RateLimitMax:    10,
		SessionDuration: 2 * time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func newRequest(body string, u *user.User, d *session.Data) *flow.Request {
	return &flow.Request{
		Msg:  message.Inbound{From: u.Phone, Type: "text", Text: body},
		Body: body,
		User: u,
		Data: d,
	}
}

func authedUser() *user.User {
	return &user.User{Phone: "5215550300", Authenticated: true, CustomerID: "C-104"}
}

// An unauthenticated user asking for anything gets claimed by the
// authentication flow, which prompts for the document number.
func TestAuthenticationClaimsUnauthenticated(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{customers: map[string]*crm.Customer{}}
	auth := NewAuthentication(sender, testGate(t), bridge)

	u := &user.User{Phone: "5215550300"}
	req := newRequest("necesito mi factura", u, &session.Data{})
	require.True(t, auth.CanHandle(context.Background(), req))

	out, err := auth.Handle(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Contains(t, sender.lastText(), "cédula")
	require.Equal(t, session.FlowAuthentication, req.Data.ActiveFlow)
}

func TestAuthenticationSuccessDelegatesToMenu(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{customers: map[string]*crm.Customer{
		"12345678": {ID: "C-104", Name: "María Pérez", Document: "12345678", Plan: "50M"},
	}}
	gate := testGate(t)
	auth := NewAuthentication(sender, gate, bridge)

	u := &user.User{Phone: "5215550300"}
	req := newRequest("12345678", u, &session.Data{ActiveFlow: session.FlowAuthentication})

	out, err := auth.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, session.FlowMainMenu, out.Delegate())
	require.True(t, u.Authenticated)
	require.Equal(t, "C-104", u.CustomerID)
	require.NotEmpty(t, u.SessionToken)
	require.True(t, gate.ValidateSession(u.SessionToken, u.Phone))
	require.Equal(t, "María", req.Data.ClientName)

	// The stored profile decrypts back to the customer record.
	require.Contains(t, gate.Decrypt(u.EncryptedProfile), "María Pérez")
	require.NotContains(t, u.EncryptedProfile, "María")
}

func TestAuthenticationFailureCountsAttempts(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{customers: map[string]*crm.Customer{}}
	gate := testGate(t)
	auth := NewAuthentication(sender, gate, bridge)

	u := &user.User{Phone: "5215550300"}
	d := &session.Data{ActiveFlow: session.FlowAuthentication}

	for i := 0; i < 2; i++ {
		out, err := auth.Handle(context.Background(), newRequest("99999999", u, d))
		require.NoError(t, err)
		require.True(t, out.IsHandled())
	}
	require.Contains(t, sender.lastText(), "Intentos restantes: 1")

	out, err := auth.Handle(context.Background(), newRequest("99999999", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Contains(t, sender.lastText(), "bloqueada temporalmente por 15 minutos")

	blocked, mins := gate.IsBlocked(u.Phone)
	require.True(t, blocked)
	require.Equal(t, 15, mins)
}

func TestMenuSelectionDelegates(t *testing.T) {
	sender := &fakeSender{}
	menu := NewMainMenu(sender)

	u := authedUser()
	req := newRequest(menuOptTicket, u, &session.Data{ActiveFlow: session.FlowMainMenu})
	require.True(t, menu.CanHandle(context.Background(), req))

	out, err := menu.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, session.FlowTicketCreation, out.Delegate())
	require.Equal(t, "crear_ticket", req.Body)
}

func TestMenuResendsOnUnknownInput(t *testing.T) {
	sender := &fakeSender{}
	menu := NewMainMenu(sender)

	u := authedUser()
	req := newRequest("qué opciones hay", u, &session.Data{ActiveFlow: session.FlowMainMenu})
	out, err := menu.Handle(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Len(t, sender.interactives, 1)
	require.Equal(t, "list", sender.interactives[0].Type)
}

func TestTicketFlowFullPathToSubmission(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{}
	ticket := NewTicketCreation(sender, bridge)
	ctx := context.Background()

	u := authedUser()
	d := &session.Data{ClientName: "María"}

	// Entry shows the category list.
	out, err := ticket.Handle(ctx, newRequest("crear_ticket", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Equal(t, session.StepCategory, d.Step)
	require.Equal(t, "list", sender.interactives[0].Type)

	// Category selection moves to first-tier self-help.
	out, err = ticket.Handle(ctx, newRequest("sin_internet", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Equal(t, session.StepSelfHelp, d.Step)
	require.Contains(t, sender.interactives[1].Body.Text, "Desconecta el router")

	// "No funcionó" advances to the second round of tips.
	out, err = ticket.Handle(ctx, newRequest("no funcionó", u, d))
	require.NoError(t, err)
	require.Equal(t, session.StepSelfHelpStep2, d.Step)
	require.Contains(t, sender.interactives[2].Body.Text, "cable de fibra")

	// Still failing: confirm ticket creation.
	out, err = ticket.Handle(ctx, newRequest("sigue igual", u, d))
	require.NoError(t, err)
	require.Equal(t, session.StepProblemPersists, d.Step)

	out, err = ticket.Handle(ctx, newRequest("ticket_confirmar", u, d))
	require.NoError(t, err)
	require.Equal(t, session.StepDescription, d.Step)

	// A full description submits the ticket and hands back to the menu.
	out, err = ticket.Handle(ctx, newRequest("El internet no funciona desde ayer en toda la casa", u, d))
	require.NoError(t, err)
	require.Equal(t, session.FlowMainMenu, out.Delegate())
	require.Len(t, bridge.tickets, 1)
	require.Equal(t, "sin_internet", bridge.tickets[0].Category)
	require.Equal(t, "C-104", bridge.tickets[0].CustomerID)
	require.Contains(t, sender.lastText(), "TK-1001")
	require.Equal(t, session.StepNone, d.Step)
}

func TestTicketFlowResolvedEndsWithoutTicket(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{}
	ticket := NewTicketCreation(sender, bridge)
	ctx := context.Background()

	u := authedUser()
	d := &session.Data{}
	_, err := ticket.Handle(ctx, newRequest("crear_ticket", u, d))
	require.NoError(t, err)
	_, err = ticket.Handle(ctx, newRequest("internet_lento", u, d))
	require.NoError(t, err)

	out, err := ticket.Handle(ctx, newRequest("ya funcionó", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.Empty(t, bridge.tickets)
	require.Equal(t, session.FlowNone, d.ActiveFlow)
	require.Contains(t, sender.lastText(), "Excelente")
}

func TestTicketFlowUnrecognizedInputNeverAdvances(t *testing.T) {
	sender := &fakeSender{}
	ticket := NewTicketCreation(sender, &fakeBridge{})
	ctx := context.Background()

	u := authedUser()
	d := &session.Data{}
	_, err := ticket.Handle(ctx, newRequest("crear_ticket", u, d))
	require.NoError(t, err)
	_, err = ticket.Handle(ctx, newRequest("sin_internet", u, d))
	require.NoError(t, err)
	require.Equal(t, session.StepSelfHelp, d.Step)

	for _, input := range []string{"gracias", "hmm", "qué hago"} {
		_, err = ticket.Handle(ctx, newRequest(input, u, d))
		require.NoError(t, err)
		require.Equal(t, session.StepSelfHelp, d.Step, "input %q must not advance", input)
	}
	require.Contains(t, sender.lastText(), "No entendí")
}

func TestTicketFlowShortDescriptionReprompts(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{}
	ticket := NewTicketCreation(sender, bridge)
	ctx := context.Background()

	u := authedUser()
	d := &session.Data{ActiveFlow: session.FlowTicketCreation, Step: session.StepDescription, Category: "facturacion"}
	_, err := ticket.Handle(ctx, newRequest("mal", u, d))
	require.NoError(t, err)
	require.Empty(t, bridge.tickets)
	require.Equal(t, session.StepDescription, d.Step)
	require.Contains(t, sender.lastText(), "muy corta")
}

func TestHandoverPausesBotAndOpensConversation(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{}
	gate := testGate(t)
	handover := NewAgentHandover(sender, gate, bridge)
	handover.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

	u := authedUser()
	u.EncryptedProfile = gate.Encrypt(`{"name":"María Pérez","id":"C-104"}`)
	d := &session.Data{ActiveFlow: session.FlowAgentHandover}
	req := newRequest("quiero hablar con un asesor", u, d)

	require.True(t, handover.CanHandle(context.Background(), req))
	out, err := handover.Handle(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.IsHandled())

	require.True(t, d.BotPaused)
	require.True(t, d.ConversationWithAgent)
	require.Equal(t, "CONV-7", d.CRMConversationID)
	require.Equal(t, "TK-1001", d.HandoverTicketID)
	require.Equal(t, session.FlowNone, d.ActiveFlow, "handover clears its own flow marker")
	require.Equal(t, 1, bridge.transferred)

	// The snapshot carries the decrypted customer name.
	require.Len(t, bridge.conversations, 1)
	require.Contains(t, bridge.conversations[0].Context, "María Pérez")
}

func TestHandoverSurvivesThreadControlFailure(t *testing.T) {
	sender := &fakeSender{}
	bridge := &fakeBridge{transferErr: context.DeadlineExceeded}
	handover := NewAgentHandover(sender, testGate(t), bridge)

	u := authedUser()
	d := &session.Data{}
	out, err := handover.Handle(context.Background(), newRequest("agente", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.True(t, d.BotPaused, "thread-control failure never aborts the handover")
}

func TestHandoverUnauthenticatedRoutesToAuth(t *testing.T) {
	sender := &fakeSender{}
	handover := NewAgentHandover(sender, testGate(t), &fakeBridge{})

	u := &user.User{Phone: "5215550300"}
	d := &session.Data{}
	out, err := handover.Handle(context.Background(), newRequest("hablar con agente", u, d))
	require.NoError(t, err)
	require.True(t, out.IsHandled())
	require.False(t, d.BotPaused)
	require.Equal(t, session.FlowAuthentication, d.ActiveFlow)
	require.True(t, strings.Contains(sender.lastText(), "cédula"))
}
