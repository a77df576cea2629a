// Package engine implements the conversation state engine for LeadPulse.
//
// This file implements the transcript builder: a read-only reconstruction
// of a conversation's messages plus lead facts and state flags, used as
// generation context and as transition evidence.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleLead marks a message authored by the lead.
	RoleLead Role = "lead"
	// RoleAgent marks a message authored by the agent.
	RoleAgent Role = "agent"
)

// Entry is one ordered transcript line.
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Transcript is the bounded, ordered context for one conversation:
// message history in sent order, a snapshot of the lead's facts, and the
// conversation's state flags at build time.
type Transcript struct {
	ConversationID string              `json:"conversation_id"`
	Entries        []Entry             `json:"entries"`
	Lead           models.Lead         `json:"lead"`
	Conversation   models.Conversation `json:"conversation"`
}

// MessageCount returns the number of transcript entries.
func (t *Transcript) MessageCount() int {
	return len(t.Entries)
}

// LastLeadMessage returns the text of the most recent lead-authored
// entry, or "" if the lead has not written yet.
func (t *Transcript) LastLeadMessage() string {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Role == RoleLead {
			return t.Entries[i].Text
		}
	}
	return ""
}

// Evidence derives transition evidence from the transcript.
func (t *Transcript) Evidence() Evidence {
	return Evidence{
		LastLeadMessage: t.LastLeadMessage(),
		MessageCount:    t.MessageCount(),
		LastContact:     t.Conversation.LastContact,
	}
}

// TranscriptBuilder assembles transcripts from the store. It is
// side-effect free.
type TranscriptBuilder struct {
	store store.Store
}

// NewTranscriptBuilder creates a TranscriptBuilder backed by st.
func NewTranscriptBuilder(st store.Store) *TranscriptBuilder {
	return &TranscriptBuilder{store: st}
}

// Build returns the transcript for conversationID. Fails with
// store.ErrNotFound when the conversation or its lead is unknown.
func (b *TranscriptBuilder) Build(ctx context.Context, conversationID string) (*Transcript, error) {
	conv, err := b.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	lead, err := b.store.FindLeadByID(ctx, conv.LeadID)
	if err != nil {
		return nil, fmt.Errorf("lead for conversation %s: %w", conversationID, err)
	}
	msgs, err := b.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		role := RoleAgent
		if msg.IsFromLead {
			role = RoleLead
		}
		entries = append(entries, Entry{Role: role, Text: msg.Content})
	}

	slog.Debug("TranscriptBuilder Build succeeded", "conversationID", conversationID, "entries", len(entries), "state", conv.State)
	return &Transcript{
		ConversationID: conversationID,
		Entries:        entries,
		Lead:           *lead,
		Conversation:   *conv,
	}, nil
}
