// Package engine implements the conversation state engine for LeadPulse.
//
// The transition logic is a pure function of the current state and new
// evidence; callers persist the returned decision. Keeping it free of
// side effects keeps it independently testable.
package engine

import (
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// DefaultStalenessThreshold is how long an engaged conversation may sit
// without contact before it is considered unresponsive.
const DefaultStalenessThreshold = 72 * time.Hour

// Config holds the phrase sets and thresholds driving state transitions.
type Config struct {
	// OptOutPhrases transition a conversation to OPTED_OUT when the most
	// recent lead-authored message contains any of them.
	OptOutPhrases []string
	// BookingPhrases transition a conversation to BOOKED.
	BookingPhrases []string
	// StalenessThreshold moves ENGAGED conversations to UNRESPONSIVE when
	// last_contact is strictly older than this.
	StalenessThreshold time.Duration
}

// DefaultConfig returns the stock phrase sets and staleness threshold.
func DefaultConfig() Config {
	return Config{
		OptOutPhrases:      []string{"stop", "unsubscribe", "opt out", "don't text", "don't message"},
		BookingPhrases:     []string{"booked", "scheduled", "appointment", "meeting", "call scheduled"},
		StalenessThreshold: DefaultStalenessThreshold,
	}
}

// Evidence is the input to a transition evaluation. LastLeadMessage is
// the text of the single most recent lead-authored message; older
// messages never re-trigger keyword rules.
type Evidence struct {
	LastLeadMessage string
	MessageCount    int
	LastContact     *time.Time
	Now             time.Time
}

// Decision is the output of a transition evaluation. The caller is
// responsible for persisting Next and BookingCompleted.
type Decision struct {
	Next             models.ConversationState
	BookingCompleted bool
	Changed          bool
}

// Evaluate computes the next conversation state from the current state
// and evidence. Rules are evaluated in fixed priority order, first match
// wins: opt-out, booking confirmation, engagement bootstrap, staleness.
// BOOKED and OPTED_OUT are sinks; no automatic rule transitions out of
// them.
func Evaluate(current models.ConversationState, ev Evidence, cfg Config) Decision {
	if current.IsTerminal() {
		return Decision{Next: current}
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = DefaultStalenessThreshold
	}
	now := ev.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if ev.LastLeadMessage != "" {
		text := strings.ToLower(ev.LastLeadMessage)
		if containsAny(text, cfg.OptOutPhrases) {
			return Decision{Next: models.StateOptedOut, Changed: current != models.StateOptedOut}
		}
		if containsAny(text, cfg.BookingPhrases) {
			return Decision{Next: models.StateBooked, BookingCompleted: true, Changed: true}
		}
	}

	switch current {
	case models.StateNew:
		if ev.MessageCount > 0 {
			return Decision{Next: models.StateEngaged, Changed: true}
		}
	case models.StateEngaged:
		if ev.LastContact != nil && now.Sub(*ev.LastContact) > cfg.StalenessThreshold {
			return Decision{Next: models.StateUnresponsive, Changed: true}
		}
	case models.StateUnresponsive:
		// Stays put until a lead message or manual action moves it.
	case models.StateBooked, models.StateOptedOut:
		// Unreachable: terminal states returned above.
	}
	return Decision{Next: current}
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
