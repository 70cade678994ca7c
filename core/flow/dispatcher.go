package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wabot/core/logger"
	"wabot/core/message"
	"wabot/core/outbound"
	"wabot/core/registry"
	"wabot/core/session"
)

const goodbyeText = "👋 Conversación finalizada. ¡Gracias por contactarnos!\n\nEscribe *menu* cuando necesites ayuda de nuevo."

// maxDelegations bounds flow-to-flow redirection within one message.
const maxDelegations = 3

// Dispatcher walks the ordered flow chain for each inbound message.
// Navigation commands are resolved before any flow sees the message.
type Dispatcher struct {
	reg      *registry.Registry
	sessions *session.Store
	sender   outbound.Sender
	flows    []Flow
	byID     map[session.FlowID]Flow
}

// NewDispatcher registers flows in chain order. Order is priority:
// earlier flows get first claim on every message.
func NewDispatcher(reg *registry.Registry, sessions *session.Store, sender outbound.Sender, flows ...Flow) *Dispatcher {
	byID := make(map[session.FlowID]Flow, len(flows))
	for _, f := range flows {
		byID[f.ID()] = f
	}
	return &Dispatcher{
		reg:      reg,
		sessions: sessions,
		sender:   sender,
		flows:    flows,
		byID:     byID,
	}
}

// Dispatch routes one message. Returns true when a flow (or a
// navigation command) consumed it; false means no flow claimed it and
// the caller should send the fallback reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) bool {
	switch message.ExtractCommand(req.Body) {
	case "menu":
		// Abandon whatever flow was active and reopen the menu.
		req.Data.ResetFlowState()
		req.Data.ActiveFlow = session.FlowMainMenu
		req.Body = "menu"
	case "finalizar":
		req.Data.EndConversation()
		d.sessions.Clear(req.Phone())
		if err := d.sender.SendText(ctx, req.Phone(), goodbyeText); err != nil {
			logger.Warn(ctx, "dispatcher", "goodbye.send.fail",
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.String("err", err.Error()))
		}
		return true
	}

	start := time.Now()
	for _, f := range d.flows {
		if !d.reg.FlowEnabled(f.ID()) {
			continue
		}
		claimed, outcome, err := d.runFlow(ctx, f, req)
		if err != nil {
			// A failing flow never swallows the message; the chain
			// continues so a later flow can still serve the user.
			d.reg.IncrementErrors()
			d.reg.AddLog("error", fmt.Sprintf("flow %s failed: %v", f.ID(), err))
			logger.Error(ctx, "dispatcher", "flow.error",
				slog.String("flow", string(f.ID())),
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.String("err", err.Error()))
			continue
		}
		if !claimed {
			continue
		}
		handled, ok := d.resolve(ctx, f.ID(), outcome, req)
		if !ok {
			continue
		}
		if handled {
			logger.Debug(ctx, "dispatcher", "flow.handled",
				slog.String("flow", string(f.ID())),
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.Duration("duration", time.Since(start)))
			return true
		}
	}
	return false
}

// resolve follows a delegation chain until a terminal outcome. Returns
// ok=false when the outcome was Declined and the chain should continue.
func (d *Dispatcher) resolve(ctx context.Context, from session.FlowID, outcome Outcome, req *Request) (handled, ok bool) {
	for hops := 0; ; hops++ {
		if outcome.IsHandled() {
			return true, true
		}
		target := outcome.Delegate()
		if target == session.FlowNone {
			return false, false
		}
		if hops >= maxDelegations {
			logger.Warn(ctx, "dispatcher", "delegation.loop",
				slog.String("flow", string(from)),
				slog.String("phone", logger.Sanitize(req.Phone())))
			return false, false
		}
		next := d.byID[target]
		if next == nil || !d.reg.FlowEnabled(target) {
			logger.Warn(ctx, "dispatcher", "delegation.unavailable",
				slog.String("flow", string(target)),
				slog.String("phone", logger.Sanitize(req.Phone())))
			return false, false
		}
		req.Data.ActiveFlow = target
		var err error
		outcome, err = next.Handle(ctx, req)
		if err != nil {
			d.reg.IncrementErrors()
			d.reg.AddLog("error", fmt.Sprintf("flow %s failed: %v", target, err))
			logger.Error(ctx, "dispatcher", "flow.error",
				slog.String("flow", string(target)),
				slog.String("phone", logger.Sanitize(req.Phone())),
				slog.String("err", err.Error()))
			return false, false
		}
		from = target
	}
}

// runFlow isolates CanHandle/Handle so a panicking flow degrades to an
// error instead of taking the process down.
func (d *Dispatcher) runFlow(ctx context.Context, f Flow, req *Request) (claimed bool, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			claimed = false
			outcome = Declined()
			err = fmt.Errorf("flow %s panicked: %v", f.ID(), r)
		}
	}()
	if !f.CanHandle(ctx, req) {
		return false, Declined(), nil
	}
	outcome, err = f.Handle(ctx, req)
	return true, outcome, err
}
