// Package store provides storage backends for LeadPulse.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute

	// pqUniqueViolation is the Postgres error code for unique constraint violations.
	pqUniqueViolation = "23505"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db    *sql.DB
	locks *leadLocks
}

// Compile-time checks that PostgresStore implements Store and DedupRepo.
var (
	_ Store     = (*PostgresStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db, locks: newLeadLocks()}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	if err := lead.Validate(); err != nil {
		return err
	}
	canonical, err := models.CanonicalizePhone(lead.PhoneNumber)
	if err != nil {
		return err
	}
	lead.PhoneNumber = canonical
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, phone_number, email, additional_info, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.Name, lead.PhoneNumber, nilIfEmpty(lead.Email), nilIfEmpty(lead.AdditionalInfo),
		lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("lead with phone %s already exists: %w", lead.PhoneNumber, ErrConflict)
		}
		slog.Error("PostgresStore CreateLead failed", "error", err, "phone", lead.PhoneNumber)
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	slog.Debug("PostgresStore CreateLead succeeded", "leadID", lead.ID)
	return nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	lead.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = $1, email = $2, additional_info = $3, updated_at = $4 WHERE id = $5`,
		lead.Name, nilIfEmpty(lead.Email), nilIfEmpty(lead.AdditionalInfo), lead.UpdatedAt, lead.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateLead failed", "error", err, "leadID", lead.ID)
		return fmt.Errorf("failed to update lead %s: %w", lead.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lead %s: %w", lead.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindLeadByID(ctx context.Context, id string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
		 FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead %s: %w", id, err)
	}
	return &lead, nil
}

func (s *PostgresStore) FindLeadByPhone(ctx context.Context, phone string) (*models.Lead, error) {
	canonical, err := models.CanonicalizePhone(phone)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
		 FROM leads WHERE phone_number = $1`, canonical)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead with phone %s: %w", canonical, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead by phone: %w", err)
	}
	return &lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, opts ListLeadsOptions) ([]models.Lead, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	var (
		rows  *sql.Rows
		total int
		err   error
	)
	if opts.State != "" {
		countQuery := `SELECT COUNT(DISTINCT l.id) FROM leads l
			JOIN conversations c ON c.lead_id = l.id WHERE c.state = $1`
		if err = s.db.QueryRowContext(ctx, countQuery, string(opts.State)).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count leads: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT l.id, l.name, l.phone_number, l.email, l.additional_info, l.created_at, l.updated_at
			 FROM leads l JOIN conversations c ON c.lead_id = l.id
			 WHERE c.state = $1 ORDER BY l.created_at LIMIT $2 OFFSET $3`,
			string(opts.State), opts.Limit, opts.Skip)
	} else {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count leads: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
			 FROM leads ORDER BY created_at LIMIT $1 OFFSET $2`,
			opts.Limit, opts.Skip)
	}
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err)
		return nil, 0, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, total, nil
}

func (s *PostgresStore) FindOrCreateActiveConversation(ctx context.Context, leadID string, initialState models.ConversationState) (*models.Conversation, error) {
	release := s.locks.acquire(leadID)
	defer release()

	conv, err := s.findActiveConversation(ctx, leadID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := models.Conversation{
		ID:     uuid.NewString(),
		LeadID: leadID,
		State:  initialState,
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, lead_id, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		created.ID, created.LeadID, string(created.State), created.CreatedAt, created.UpdatedAt)
	if err != nil {
		// Lost a race with another writer; the find must now succeed.
		if conv, findErr := s.findActiveConversation(ctx, leadID); findErr == nil {
			return conv, nil
		}
		slog.Error("PostgresStore FindOrCreateActiveConversation insert failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to create conversation for lead %s: %w", leadID, err)
	}
	slog.Debug("PostgresStore created conversation", "conversationID", created.ID, "leadID", leadID, "state", created.State)
	return &created, nil
}

func (s *PostgresStore) findActiveConversation(ctx context.Context, leadID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE lead_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, leadID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active conversation for lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, opts ListConversationsOptions) ([]models.Conversation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE 1=1`
	var args []interface{}
	arg := 0
	next := func() string {
		arg++
		return fmt.Sprintf("$%d", arg)
	}
	if opts.State != "" {
		query += ` AND state = ` + next()
		args = append(args, string(opts.State))
	}
	if opts.LeadID != "" {
		query += ` AND lead_id = ` + next()
		args = append(args, opts.LeadID)
	}
	query += ` ORDER BY created_at LIMIT ` + next()
	args = append(args, opts.Limit)
	query += ` OFFSET ` + next()
	args = append(args, opts.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return convs, nil
}

func (s *PostgresStore) ListStaleConversations(ctx context.Context, state models.ConversationState, cutoff time.Time, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state = $1 AND last_contact IS NOT NULL AND last_contact < $2
		 ORDER BY last_contact LIMIT $3`,
		string(state), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) UpdateConversationState(ctx context.Context, conv *models.Conversation) error {
	if !conv.State.IsValid() {
		return models.ErrInvalidState
	}
	conv.UpdatedAt = time.Now().UTC()
	var lastContact interface{}
	if conv.LastContact != nil {
		lastContact = *conv.LastContact
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET state = $1, last_contact = $2, booking_link_sent = $3, booking_link_clicked = $4, booking_completed = $5, updated_at = $6
		 WHERE id = $7`,
		string(conv.State), lastContact, conv.BookingLinkSent, conv.BookingLinkClicked,
		conv.BookingCompleted, conv.UpdatedAt, conv.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationState failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to update conversation %s: %w", conv.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Content == "" {
		return models.ErrEmptyContent
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, content, is_from_lead, sent_at, delivered, delivery_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		msg.ID, msg.ConversationID, msg.Content, msg.IsFromLead, msg.SentAt,
		msg.Delivered, nilIfEmpty(msg.DeliveryError)).Scan(&msg.Seq)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	slog.Debug("PostgresStore AppendMessage succeeded", "messageID", msg.ID, "seq", msg.Seq, "fromLead", msg.IsFromLead)
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, content, is_from_lead, sent_at, seq, delivered, delivery_error
		 FROM messages WHERE conversation_id = $1 ORDER BY sent_at, seq`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) UpdateMessageDeliveryOutcome(ctx context.Context, messageID string, delivered bool, deliveryError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivered = $1, delivery_error = $2 WHERE id = $3`,
		delivered, nilIfEmpty(deliveryError), messageID)
	if err != nil {
		slog.Error("PostgresStore UpdateMessageDeliveryOutcome failed", "error", err, "messageID", messageID)
		return fmt.Errorf("failed to update delivery outcome for %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}
