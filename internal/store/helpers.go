package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/leadpulse/leadpulse/internal/models"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Connection
// URLs and key=value connection strings are Postgres; anything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanLead scans a Lead from a row shaped as
// (id, name, phone_number, email, additional_info, created_at, updated_at).
func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var email, additionalInfo sql.NullString
	err := row.Scan(&l.ID, &l.Name, &l.PhoneNumber, &email, &additionalInfo, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return l, err
	}
	l.Email = email.String
	l.AdditionalInfo = additionalInfo.String
	return l, nil
}

// scanConversation scans a Conversation from a row shaped as
// (id, lead_id, state, last_contact, booking_link_sent,
// booking_link_clicked, booking_completed, created_at, updated_at).
func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var lastContact sql.NullTime
	var state string
	err := row.Scan(&c.ID, &c.LeadID, &state, &lastContact,
		&c.BookingLinkSent, &c.BookingLinkClicked, &c.BookingCompleted,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.State = models.ConversationState(state)
	if !c.State.IsValid() {
		return c, fmt.Errorf("conversation %s: %w: %q", c.ID, models.ErrInvalidState, state)
	}
	if lastContact.Valid {
		c.LastContact = &lastContact.Time
	}
	return c, nil
}

// scanMessage scans a Message from a row shaped as
// (id, conversation_id, content, is_from_lead, sent_at, seq, delivered,
// delivery_error).
func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var deliveryError sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.IsFromLead,
		&m.SentAt, &m.Seq, &m.Delivered, &deliveryError)
	if err != nil {
		return m, err
	}
	m.DeliveryError = deliveryError.String
	return m, nil
}

// leadLocks serializes find-or-create sections per lead so a webhook
// double-submit cannot create two live conversations for the same lead.
type leadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLeadLocks() *leadLocks {
	return &leadLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for leadID and returns its release function.
func (l *leadLocks) acquire(leadID string) func() {
	l.mu.Lock()
	m, ok := l.locks[leadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[leadID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
