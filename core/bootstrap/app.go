package bootstrap

import (
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	coreconfig "wabot/core/config"
	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/flows"
	"wabot/core/orchestrator"
	"wabot/core/outbound"
	"wabot/core/registry"
	"wabot/core/security"
	"wabot/core/session"
	"wabot/core/user"
	"wabot/core/webhook"
)

// App holds the fully wired bot runtime.
type App struct {
	Config *coreconfig.Config
	DB     *sqlx.DB

	Registry *registry.Registry
	Gate     *security.Gate
	Sessions *session.Store
	Outbox   *outbound.Dispatcher

	Orchestrator *orchestrator.Orchestrator
	Handler      *webhook.Handler
}

// NewApp runs the infrastructure pipeline and wires every component on
// top of it. The flow chain order matters: authentication screens
// unauthenticated users first, then the menu claims its option ids
// before the handover keyword matcher gets a look.
func NewApp(cfg *coreconfig.Config) (*App, error) {
	res, err := Run(Options{Config: cfg})
	if err != nil {
		return nil, err
	}

	gate, err := security.NewGate(cfg.Security)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}

	wa := outbound.NewWhatsAppClient(cfg.WhatsApp, "")
	outbox := outbound.NewDispatcher(outbound.Options{})

	sessions := session.NewStore(session.Options{
		IdleTimeout:   cfg.Security.IdleSessionExpiry,
		SweepInterval: cfg.Security.CleanupInterval,
		Notifier:      outbound.NewAsyncNotifier(outbox, wa),
	})

	reg := registry.New(
		session.FlowAuthentication,
		session.FlowMainMenu,
		session.FlowTicketCreation,
		session.FlowAgentHandover,
	)

	users := user.NewStore()
	control := crm.NewGraphThreadControl(cfg.CRM, cfg.WhatsApp, "")
	bridge := crm.NewPostgresStore(res.DB, control)

	dispatcher := flow.NewDispatcher(reg, sessions, wa,
		flows.NewAuthentication(wa, gate, bridge),
		flows.NewMainMenu(wa),
		flows.NewTicketCreation(wa, bridge),
		flows.NewAgentHandover(wa, gate, bridge),
	)

	orch := orchestrator.New(orchestrator.Options{
		Registry:   reg,
		Gate:       gate,
		Users:      users,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Sender:     wa,
		Bridge:     bridge,

		AgentIdleTimeout: cfg.CRM.AgentIdleTimeout,
	})

	handler := webhook.NewHandler(cfg.WhatsApp, orch, reg, gate, sessions, users)

	return &App{
		Config:       cfg,
		DB:           res.DB,
		Registry:     reg,
		Gate:         gate,
		Sessions:     sessions,
		Outbox:       outbox,
		Orchestrator: orch,
		Handler:      handler,
	}, nil
}

// Router exposes the HTTP surface: webhook verification and receipt,
// health, and the admin endpoints.
func (a *App) Router() chi.Router {
	return a.Handler.Router()
}

// Close stops background workers and releases the database pool.
func (a *App) Close() error {
	a.Outbox.Close()
	a.Sessions.Close()
	a.Gate.Close()
	return a.DB.Close()
}
