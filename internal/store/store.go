// Package store provides storage backends for LeadPulse.
//
// It defines the Store interface consumed by the engine and orchestrator,
// with SQLite and PostgreSQL implementations. All persistence is owned
// here; callers operate on data fetched per-operation and never cache
// cross-request state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// Sentinel errors for standard not-found/conflict signaling.
var (
	// ErrNotFound indicates the requested lead, conversation, or message
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation, e.g. creating a lead
	// with a phone number that is already registered.
	ErrConflict = errors.New("conflict")
)

// ListLeadsOptions controls paging and filtering for ListLeads.
type ListLeadsOptions struct {
	Skip  int
	Limit int
	// State filters leads by the state of their most recent conversation.
	State models.ConversationState
}

// ListConversationsOptions controls filtering for ListConversations.
type ListConversationsOptions struct {
	Skip   int
	Limit  int
	State  models.ConversationState
	LeadID string
}

// Store defines the persistence operations consumed by the engine.
type Store interface {
	// CreateLead inserts a new lead, assigning its ID and timestamps.
	// Returns ErrConflict if the phone number is already registered.
	CreateLead(ctx context.Context, lead *models.Lead) error

	// UpdateLead updates name, email, and additional info for an existing
	// lead. The phone identifier is immutable.
	UpdateLead(ctx context.Context, lead *models.Lead) error

	// FindLeadByID returns the lead with the given id, or ErrNotFound.
	FindLeadByID(ctx context.Context, id string) (*models.Lead, error)

	// FindLeadByPhone returns the lead registered under the canonical
	// phone identifier, or ErrNotFound.
	FindLeadByPhone(ctx context.Context, phone string) (*models.Lead, error)

	// ListLeads returns a page of leads and the total count.
	ListLeads(ctx context.Context, opts ListLeadsOptions) ([]models.Lead, int, error)

	// FindOrCreateActiveConversation returns the most recently created
	// conversation for the lead, creating one in initialState if none
	// exists. Safe under concurrent calls for the same lead: two racing
	// creation attempts never produce two live conversations.
	FindOrCreateActiveConversation(ctx context.Context, leadID string, initialState models.ConversationState) (*models.Conversation, error)

	// GetConversation returns the conversation with the given id, or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// ListConversations returns conversations matching the filter options.
	ListConversations(ctx context.Context, opts ListConversationsOptions) ([]models.Conversation, error)

	// ListStaleConversations returns conversations in the given state
	// whose last_contact is strictly before cutoff, up to limit.
	ListStaleConversations(ctx context.Context, state models.ConversationState, cutoff time.Time, limit int) ([]models.Conversation, error)

	// UpdateConversationState persists state, booking flags, and
	// last_contact for a conversation.
	UpdateConversationState(ctx context.Context, conv *models.Conversation) error

	// AppendMessage inserts a message, assigning its ID, sequence number,
	// and sent_at timestamp if unset.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessages returns a conversation's messages ordered by sent_at,
	// ties broken by insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	// UpdateMessageDeliveryOutcome records the delivery outcome of a send
	// attempt. Messages are never otherwise mutated.
	UpdateMessageDeliveryOutcome(ctx context.Context, messageID string, delivered bool, deliveryError string) error

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, connection URL
// for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
