package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"wabot/core/crm"
	"wabot/core/flow"
	"wabot/core/logger"
	"wabot/core/outbound"
	"wabot/core/security"
	"wabot/core/session"
)

var documentRe = regexp.MustCompile(`^\d{6,12}$`)

// Authentication claims every message from an unauthenticated user and
// walks them through document-number login.
type Authentication struct {
	sender outbound.Sender
	gate   *security.Gate
	bridge crm.Bridge
}

func NewAuthentication(sender outbound.Sender, gate *security.Gate, bridge crm.Bridge) *Authentication {
	return &Authentication{sender: sender, gate: gate, bridge: bridge}
}

func (a *Authentication) ID() session.FlowID { return session.FlowAuthentication }

func (a *Authentication) CanHandle(_ context.Context, req *flow.Request) bool {
	return !req.User.Authenticated
}

func (a *Authentication) Handle(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	body := strings.TrimSpace(req.Body)
	if !documentRe.MatchString(body) {
		if err := a.sender.SendText(ctx, req.Phone(),
			"👋 ¡Hola! Para ayudarte necesito verificar tu identidad.\n\n"+
				"Ingresa tu número de cédula o documento de identidad "+
				"(entre 6 y 12 dígitos, sin espacios ni guiones):"); err != nil {
			return flow.Declined(), err
		}
		req.Data.ActiveFlow = session.FlowAuthentication
		return flow.Handled(), nil
	}

	customer, err := a.bridge.AuthenticateCustomer(ctx, req.Phone(), body)
	switch {
	case errors.Is(err, crm.ErrNotFound):
		return a.failed(ctx, req)
	case err != nil:
		return flow.Declined(), fmt.Errorf("authentication: %w", err)
	}
	return a.succeeded(ctx, req, customer)
}

func (a *Authentication) succeeded(ctx context.Context, req *flow.Request, customer *crm.Customer) (flow.Outcome, error) {
	a.gate.ClearAttempts(req.Phone())

	token, err := a.gate.CreateSession(req.Phone())
	if err != nil {
		return flow.Declined(), err
	}

	profile, err := json.Marshal(customer)
	if err != nil {
		return flow.Declined(), fmt.Errorf("authentication: profile: %w", err)
	}

	req.User.Authenticated = true
	req.User.CustomerID = customer.ID
	req.User.SessionToken = token
	req.User.EncryptedProfile = a.gate.Encrypt(string(profile))
	req.Data.ClientName = firstName(customer.Name)

	logger.Info(ctx, "auth", "auth.success",
		slog.String("phone", logger.Sanitize(req.Phone())))

	if err := a.sender.SendText(ctx, req.Phone(),
		"✅ ¡Hola "+displayName(customer.Name)+"!\n\n"+
			"Autenticación exitosa. Tu sesión estará activa por 2 horas.\n\n"+
			"🔒 Sesión segura iniciada\n"+
			"⏰ Expiración automática por seguridad"); err != nil {
		return flow.Declined(), err
	}
	return flow.DelegateTo(session.FlowMainMenu), nil
}

func (a *Authentication) failed(ctx context.Context, req *flow.Request) (flow.Outcome, error) {
	a.gate.RecordAttempt(ctx, req.Phone())

	if blocked, mins := a.gate.IsBlocked(req.Phone()); blocked {
		if err := a.sender.SendText(ctx, req.Phone(),
			fmt.Sprintf("🔒 Demasiados intentos fallidos de autenticación.\n\n"+
				"Tu cuenta ha sido bloqueada temporalmente por %d minutos por seguridad.\n\n"+
				"Si necesitas ayuda inmediata, contacta a nuestro equipo de soporte.", mins)); err != nil {
			return flow.Declined(), err
		}
		req.Data.ResetFlowState()
		return flow.Handled(), nil
	}

	remaining := a.gate.RemainingAttempts(req.Phone())
	if err := a.sender.SendText(ctx, req.Phone(),
		fmt.Sprintf("❌ No pude encontrar tu información con esos datos.\n\n"+
			"Verifica que hayas ingresado correctamente tu número de "+
			"cédula o documento de identidad.\n\n"+
			"⚠️ Intentos restantes: %d", remaining)); err != nil {
		return flow.Declined(), err
	}
	req.Data.ActiveFlow = session.FlowAuthentication
	return flow.Handled(), nil
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func displayName(full string) string {
	if full == "" || full == "Cliente" {
		return "estimado(a) cliente"
	}
	return full
}
