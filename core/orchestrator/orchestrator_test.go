package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wabot/core/config"
	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/message"
	"wabot/core/outbound"
	"wabot/core/registry"
	"wabot/core/security"
	"wabot/core/session"
	"wabot/core/user"
)

type fakeSender struct {
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendInteractive(context.Context, string, outbound.Interactive) error {
	return nil
}

type fakeBridge struct {
	crm.Bridge
	appended []string
}

func (b *fakeBridge) AppendClientMessage(_ context.Context, conversationID, text string) error {
	b.appended = append(b.appended, conversationID+":"+text)
	return nil
}

type echoFlow struct {
	id      session.FlowID
	handled int
	lastReq string
}

func (e *echoFlow) ID() session.FlowID { return e.id }

func (e *echoFlow) CanHandle(context.Context, *flow.Request) bool { return true }

func (e *echoFlow) Handle(_ context.Context, req *flow.Request) (flow.Outcome, error) {
	e.handled++
	e.lastReq = req.Body
	return flow.Handled(), nil
}

type fixture struct {
	orch   *Orchestrator
	sender *fakeSender
	bridge *fakeBridge
	reg    *registry.Registry
	gate   *security.Gate
	users  *user.Store
	store  *session.Store
	flow   *echoFlow
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gate, err := security.NewGate(config.SecurityConfig{
		EncryptionKey:   "orchestrator-test-key",
		MaxAuthAttempts: 3,
		BlockDuration:   15 * time.Minute,
		RateLimitWindow: time.Minute,
		RateLimitMax:    10,
		SessionDuration: 2 * time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(gate.Close)

	f := &fixture{
		sender: &fakeSender{},
		bridge: &fakeBridge{},
		reg: registry.New(session.FlowMainMenu, session.FlowAuthentication,
			session.FlowTicketCreation, session.FlowAgentHandover),
		gate:  gate,
		users: user.NewStore(),
		store: session.NewStore(session.Options{}),
		flow:  &echoFlow{id: session.FlowMainMenu},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	t.Cleanup(f.store.Close)

	dispatcher := flow.NewDispatcher(f.reg, f.store, f.sender, f.flow)
	f.orch = New(Options{
		Registry:   f.reg,
		Gate:       gate,
		Users:      f.users,
		Sessions:   f.store,
		Dispatcher: dispatcher,
		Sender:     f.sender,
		Bridge:     f.bridge,
	})
	f.orch.now = func() time.Time { return f.now }
	return f
}

func inbound(text string) message.Inbound {
	return message.Inbound{From: "5215550400", Type: "text", Text: text}
}

func TestPausedModeDropsSilently(t *testing.T) {
	f := newFixture(t)
	f.reg.SetMode(registry.ModePaused)

	require.NoError(t, f.orch.Process(context.Background(), inbound("hola")))
	require.Empty(t, f.sender.texts)
	require.Zero(t, f.flow.handled)
	require.Zero(t, f.reg.Snapshot().MessagesProcessed)
}

func TestMaintenanceModeSendsNotice(t *testing.T) {
	f := newFixture(t)
	f.reg.SetMode(registry.ModeMaintenance)

	require.NoError(t, f.orch.Process(context.Background(), inbound("hola")))
	require.Len(t, f.sender.texts, 1)
	require.Contains(t, f.sender.texts[0], "Mantenimiento")
	require.Zero(t, f.flow.handled)
}

func TestEleventhMessageInWindowIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, f.orch.Process(ctx, inbound("hola")))
	}
	require.Equal(t, 10, f.flow.handled)

	require.NoError(t, f.orch.Process(ctx, inbound("hola")))
	require.Equal(t, 10, f.flow.handled, "11th message never reaches dispatch")
	require.Contains(t, f.sender.texts[len(f.sender.texts)-1], "muy rápido")
}

func TestBlockedPhoneGetsRemainingMinutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.gate.RecordAttempt(ctx, "5215550400")
	}

	require.NoError(t, f.orch.Process(ctx, inbound("hola")))
	require.Zero(t, f.flow.handled)
	require.Contains(t, f.sender.texts[len(f.sender.texts)-1], "15 minuto")
}

func TestAgentConversationForwardsToCRM(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.store.Get("5215550400")
	d.BotPaused = true
	d.ConversationWithAgent = true
	d.CRMConversationID = "CONV-9"
	d.AgentLastActivity = f.now.Add(-5 * time.Minute)

	require.NoError(t, f.orch.Process(ctx, inbound("sigo esperando")))
	require.Zero(t, f.flow.handled, "paused bot never dispatches")
	require.Equal(t, []string{"CONV-9:sigo esperando"}, f.bridge.appended)
}

func TestIdleAgentReactivatesBotBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.store.Get("5215550400")
	d.BotPaused = true
	d.ConversationWithAgent = true
	d.CRMConversationID = "CONV-9"
	d.AgentLastActivity = f.now.Add(-31 * time.Minute)

	require.NoError(t, f.orch.Process(ctx, inbound("hola")))
	require.False(t, d.BotPaused)
	require.False(t, d.ConversationWithAgent)
	require.Empty(t, d.CRMConversationID)
	require.Empty(t, f.bridge.appended)
	require.Equal(t, 1, f.flow.handled, "message is dispatched after reactivation")
	require.Contains(t, f.sender.texts[0], "retomado")
}

func TestLapsedSecuritySessionForcesReauth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.gate.CreateSession("5215550400")
	require.NoError(t, err)
	u := f.users.GetOrCreate("5215550400")
	u.Authenticated = true
	u.SessionToken = token
	u.CustomerID = "C-104"

	// Equivalent to the 2h absolute expiry having passed.
	f.gate.InvalidateSession(token)

	require.NoError(t, f.orch.Process(ctx, inbound("hola")))
	require.False(t, u.Authenticated)
	require.Empty(t, u.SessionToken)
	require.Zero(t, f.flow.handled)
	require.Contains(t, f.sender.texts[len(f.sender.texts)-1], "sesión expiró")
}

func TestUnhandledMessageGetsFallback(t *testing.T) {
	f := newFixture(t)
	f.reg.DisableFlow(session.FlowMainMenu) // no flow can claim

	require.NoError(t, f.orch.Process(context.Background(), inbound("algo raro")))
	require.Contains(t, f.sender.texts[len(f.sender.texts)-1], "No entendí")
}

func TestPaymentButtonVariantsCollapse(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Process(context.Background(),
		inbound("✅ Validar Pago\nvalidar_pago")))
	require.Equal(t, "validar_pago", f.flow.lastReq)
}
