package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"wabot/core/logger"
)

// PostgresStore implements Bridge on top of the shared database handle.
type PostgresStore struct {
	db      *sqlx.DB
	control ThreadControl
}

// ThreadControl transfers a WhatsApp thread to the agent application.
type ThreadControl interface {
	Transfer(ctx context.Context, phone string) error
}

// NewPostgresStore wires the store. control may be nil when no agent
// application is configured; TransferThreadControl then no-ops.
func NewPostgresStore(db *sqlx.DB, control ThreadControl) *PostgresStore {
	return &PostgresStore{db: db, control: control}
}

func (s *PostgresStore) AuthenticateCustomer(ctx context.Context, phone, document string) (*Customer, error) {
	var c Customer
	err := s.db.GetContext(ctx, &c,
		`SELECT id, name, document, phone, plan FROM customers WHERE document = $1`, document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("crm: authenticate: %w", err)
	}
	// Bind the phone to the customer on first successful auth.
	if c.Phone != phone {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE customers SET phone = $1 WHERE id = $2`, phone, c.ID); err != nil {
			logger.Warn(ctx, "crm", "customer.phone_bind.fail",
				slog.String("phone", logger.Sanitize(phone)),
				slog.String("err", err.Error()))
		} else {
			c.Phone = phone
		}
	}
	return &c, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t Ticket) (*Ticket, error) {
	t.ID = uuid.NewString()
	t.Status = "open"
	t.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, customer_id, phone, category, description, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, nullable(t.CustomerID), t.Phone, t.Category, t.Description, t.Status, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("crm: create ticket: %w", err)
	}
	logger.Info(ctx, "crm", "ticket.created",
		slog.String("ticket_id", t.ID),
		slog.String("phone", logger.Sanitize(t.Phone)),
		slog.String("payload", t.Category))
	return &t, nil
}

func (s *PostgresStore) OpenConversation(ctx context.Context, phone, contextSnapshot string) (*Conversation, error) {
	c := Conversation{
		ID:        uuid.NewString(),
		Phone:     phone,
		Context:   contextSnapshot,
		Status:    "open",
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, phone, context, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Phone, c.Context, c.Status, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("crm: open conversation: %w", err)
	}
	logger.Info(ctx, "crm", "conversation.opened",
		slog.String("conversation_id", c.ID),
		slog.String("phone", logger.Sanitize(phone)))
	return &c, nil
}

func (s *PostgresStore) AppendClientMessage(ctx context.Context, conversationID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, sender, body, created_at)
		 VALUES ($1, $2, 'client', $3, $4)`,
		uuid.NewString(), conversationID, text, time.Now())
	if err != nil {
		return fmt.Errorf("crm: append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) TransferThreadControl(ctx context.Context, phone string) error {
	if s.control == nil {
		return nil
	}
	return s.control.Transfer(ctx, phone)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
