// Package crm bridges the bot to the customer system: customer lookup,
// ticket creation, and agent conversation threads. The Postgres store
// is the production implementation; tests supply fakes.
package crm

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no customer.
var ErrNotFound = errors.New("crm: not found")

// Customer is the authenticated-profile projection handed to flows.
type Customer struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Document string `json:"document" db:"document"`
	Phone    string `json:"phone" db:"phone"`
	Plan     string `json:"plan" db:"plan"`
}

// Ticket is a support case opened from a conversation.
type Ticket struct {
	ID          string    `db:"id"`
	CustomerID  string    `db:"customer_id"`
	Phone       string    `db:"phone"`
	Category    string    `db:"category"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// Conversation is an agent-attended thread opened on handover.
type Conversation struct {
	ID        string    `db:"id"`
	Phone     string    `db:"phone"`
	Context   string    `db:"context"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// Bridge is the full CRM surface the flows depend on.
type Bridge interface {
	// AuthenticateCustomer matches a document number against the
	// customer base. Returns ErrNotFound on no match.
	AuthenticateCustomer(ctx context.Context, phone, document string) (*Customer, error)

	// CreateTicket opens a support case and returns it with its id set.
	CreateTicket(ctx context.Context, t Ticket) (*Ticket, error)

	// OpenConversation starts an agent thread carrying the context
	// snapshot assembled at handover time.
	OpenConversation(ctx context.Context, phone, contextSnapshot string) (*Conversation, error)

	// AppendClientMessage records a client message on an open thread.
	AppendClientMessage(ctx context.Context, conversationID, text string) error

	// TransferThreadControl hands the WhatsApp thread to the agent app.
	// Best effort: callers ignore the error beyond logging.
	TransferThreadControl(ctx context.Context, phone string) error
}
