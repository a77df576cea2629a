// Package store provides storage backends for LeadPulse.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/leadpulse/leadpulse/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db    *sql.DB
	locks *leadLocks
}

// Compile-time checks that SQLiteStore implements Store and DedupRepo.
var (
	_ Store     = (*SQLiteStore)(nil)
	_ DedupRepo = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, locks: newLeadLocks()}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *models.Lead) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Name, lead.PhoneNumber, nilIfEmpty(lead.Email), nilIfEmpty(lead.AdditionalInfo),
		lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("lead with phone %s already exists: %w", lead.PhoneNumber, ErrConflict)
		}
		slog.Error("SQLiteStore CreateLead failed", "error", err, "phone", lead.PhoneNumber)
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	slog.Debug("SQLiteStore CreateLead succeeded", "leadID", lead.ID)
	return nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	lead.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, email = ?, additional_info = ?, updated_at = ? WHERE id = ?`,
		lead.Name, nilIfEmpty(lead.Email), nilIfEmpty(lead.AdditionalInfo), lead.UpdatedAt, lead.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateLead failed", "error", err, "leadID", lead.ID)
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

func (s *SQLiteStore) FindLeadByID(ctx context.Context, id string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
		 FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead %s: %w", id, err)
	}
	return &lead, nil
}

func (s *SQLiteStore) FindLeadByPhone(ctx context.Context, phone string) (*models.Lead, error) {
	canonical, err := models.CanonicalizePhone(phone)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
		 FROM leads WHERE phone_number = ?`, canonical)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead with phone %s: %w", canonical, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead by phone: %w", err)
	}
	return &lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, opts ListLeadsOptions) ([]models.Lead, int, error) {
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
			JOIN conversations c ON c.lead_id = l.id WHERE c.state = ?`
		if err = s.db.QueryRowContext(ctx, countQuery, string(opts.State)).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count leads: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT l.id, l.name, l.phone_number, l.email, l.additional_info, l.created_at, l.updated_at
			 FROM leads l JOIN conversations c ON c.lead_id = l.id
			 WHERE c.state = ? ORDER BY l.created_at LIMIT ? OFFSET ?`,
			string(opts.State), opts.Limit, opts.Skip)
	} else {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count leads: %w", err)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, phone_number, email, additional_info, created_at, updated_at
			 FROM leads ORDER BY created_at LIMIT ? OFFSET ?`,
			opts.Limit, opts.Skip)
	}
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err)
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

const conversationColumns = `id, lead_id, state, last_contact, booking_link_sent, booking_link_clicked, booking_completed, created_at, updated_at`

func (s *SQLiteStore) FindOrCreateActiveConversation(ctx context.Context, leadID string, initialState models.ConversationState) (*models.Conversation, error) {
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
		`INSERT INTO conversations (id, lead_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		created.ID, created.LeadID, string(created.State), created.CreatedAt, created.UpdatedAt)
	if err != nil {
		// Lost a race with another writer; the find must now succeed.
		if conv, findErr := s.findActiveConversation(ctx, leadID); findErr == nil {
			return conv, nil
		}
		slog.Error("SQLiteStore FindOrCreateActiveConversation insert failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to create conversation for lead %s: %w", leadID, err)
	}
	slog.Debug("SQLiteStore created conversation", "conversationID", created.ID, "leadID", leadID, "state", created.State)
	return &created, nil
}

func (s *SQLiteStore) findActiveConversation(ctx context.Context, leadID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE lead_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, leadID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active conversation for lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, opts ListConversationsOptions) ([]models.Conversation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE 1=1`
	var args []interface{}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}
	if opts.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, opts.LeadID)
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
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

func (s *SQLiteStore) ListStaleConversations(ctx context.Context, state models.ConversationState, cutoff time.Time, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state = ? AND last_contact IS NOT NULL AND last_contact < ?
		 ORDER BY last_contact LIMIT ?`,
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

func (s *SQLiteStore) UpdateConversationState(ctx context.Context, conv *models.Conversation) error {
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
		 SET state = ?, last_contact = ?, booking_link_sent = ?, booking_link_clicked = ?, booking_completed = ?, updated_at = ?
		 WHERE id = ?`,
		string(conv.State), lastContact, conv.BookingLinkSent, conv.BookingLinkClicked,
		conv.BookingCompleted, conv.UpdatedAt, conv.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationState failed", "error", err, "conversationID", conv.ID)
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

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Content == "" {
		return models.ErrEmptyContent
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, content, is_from_lead, sent_at, delivered, delivery_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Content, msg.IsFromLead, msg.SentAt,
		msg.Delivered, nilIfEmpty(msg.DeliveryError))
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}
	msg.Seq = seq
	slog.Debug("SQLiteStore AppendMessage succeeded", "messageID", msg.ID, "seq", seq, "fromLead", msg.IsFromLead)
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, content, is_from_lead, sent_at, seq, delivered, delivery_error
		 FROM messages WHERE conversation_id = ? ORDER BY sent_at, seq`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "conversationID", conversationID)
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

func (s *SQLiteStore) UpdateMessageDeliveryOutcome(ctx context.Context, messageID string, delivered bool, deliveryError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivered = ?, delivery_error = ? WHERE id = ?`,
		delivered, nilIfEmpty(deliveryError), messageID)
	if err != nil {
		slog.Error("SQLiteStore UpdateMessageDeliveryOutcome failed", "error", err, "messageID", messageID)
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
