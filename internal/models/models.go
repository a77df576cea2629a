// Package models defines the core data structures for LeadPulse.
//
// It includes leads, conversations, messages, and the result types shared
// across the orchestrator, store, and API modules.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ConversationState identifies where a conversation sits in the
// reactivation lifecycle.
type ConversationState string

const (
	// StateNew is the initial state before any message has been exchanged.
	StateNew ConversationState = "new"
	// StateEngaged indicates at least one message has been exchanged.
	StateEngaged ConversationState = "engaged"
	// StateBooked indicates the lead confirmed a booked appointment. Terminal.
	StateBooked ConversationState = "booked"
	// StateOptedOut indicates the lead asked to stop receiving messages. Terminal.
	StateOptedOut ConversationState = "opted_out"
	// StateUnresponsive indicates an engaged lead went quiet past the
	// staleness threshold.
	StateUnresponsive ConversationState = "unresponsive"
)

// IsValid reports whether s is one of the defined conversation states.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateNew, StateEngaged, StateBooked, StateOptedOut, StateUnresponsive:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a sink state: the engine never
// transitions out of a terminal state automatically.
func (s ConversationState) IsTerminal() bool {
	return s == StateBooked || s == StateOptedOut
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for message content
	MaxMessageLength = 1600
	// MaxNameLength defines the maximum allowed length for a lead name
	MaxNameLength = 255
	// MinPhoneDigits defines the minimum number of digits in a phone number
	MinPhoneDigits = 6
)

// Error variables for better error handling and testability
var (
	ErrEmptyPhone       = errors.New("phone number cannot be empty")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrNameTooLong      = errors.New("name exceeds maximum length")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLong   = errors.New("message content exceeds maximum length")
	ErrInvalidState     = errors.New("invalid conversation state")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

var phoneDigitsRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone validates a phone identifier and reduces it to a
// canonical form: a leading plus (if present) followed by digits only.
func CanonicalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", ErrEmptyPhone
	}
	trimmed := strings.TrimSpace(phone)
	plus := strings.HasPrefix(trimmed, "+")
	digits := phoneDigitsRegex.ReplaceAllString(trimmed, "")
	if len(digits) < MinPhoneDigits {
		return "", ErrInvalidPhone
	}
	if plus {
		return "+" + digits, nil
	}
	return digits, nil
}

// Lead is a contact record targeted for reactivation outreach. The phone
// identifier is immutable and globally unique.
type Lead struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PhoneNumber    string    `json:"phone_number"`
	Email          string    `json:"email,omitempty"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks lead fields before creation.
func (l *Lead) Validate() error {
	if l.Name == "" {
		return ErrEmptyName
	}
	if len(l.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if _, err := CanonicalizePhone(l.PhoneNumber); err != nil {
		return err
	}
	return nil
}

// Conversation is one lifecycle thread of messages with a lead. A lead
// may accumulate several conversations over time; the active one is the
// most recently created.
type Conversation struct {
	ID                 string            `json:"id"`
	LeadID             string            `json:"lead_id"`
	State              ConversationState `json:"state"`
	LastContact        *time.Time        `json:"last_contact,omitempty"`
	BookingLinkSent    bool              `json:"booking_link_sent"`
	BookingLinkClicked bool              `json:"booking_link_clicked"`
	BookingCompleted   bool              `json:"booking_completed"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Message is a single SMS in a conversation. Messages are append-only;
// only the delivery outcome is updated after a send attempt. Seq is a
// monotonic insertion counter used to break sent_at ties.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsFromLead     bool      `json:"is_from_lead"`
	SentAt         time.Time `json:"sent_at"`
	Seq            int64     `json:"seq"`
	Delivered      bool      `json:"delivered"`
	DeliveryError  string    `json:"delivery_error,omitempty"`
}

// SendResult reports the outcome of an outbound send attempt. Delivery is
// best-effort: failures are carried here, never raised past the
// orchestrator.
type SendResult struct {
	Success     bool   `json:"success"`
	MessageID   string `json:"message_id,omitempty"`
	ProviderSID string `json:"provider_sid,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GenerateResult reports the outcome of a generate-and-maybe-send cycle.
// Skipped is set when the conversation is in a terminal state or the
// generation capability failed; the state transition, if any, stands.
type GenerateResult struct {
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	Reply      string `json:"reply,omitempty"`
}

// ReceiveResult reports the outcome of processing an inbound message.
// Partial completion (message recorded, reply pipeline failed) is a
// reportable outcome, not a rollback trigger.
type ReceiveResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WebhookResult is the structured acknowledgement the reconciler hands
// to the HTTP layer. The reconciler never raises past its boundary.
type WebhookResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
