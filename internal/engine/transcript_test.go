package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func seedConversation(t *testing.T, st *store.InMemoryStore) (*models.Lead, *models.Conversation) {
	t.Helper()
	ctx := context.Background()
	lead := &models.Lead{Name: "Riley Chen", PhoneNumber: "+15551234567", AdditionalInfo: "asked about pricing last fall"}
	if err := st.CreateLead(ctx, lead); err != nil {
		t.Fatalf("CreateLead failed: %v", err)
	}
	conv, err := st.FindOrCreateActiveConversation(ctx, lead.ID, models.StateNew)
	if err != nil {
		t.Fatalf("FindOrCreateActiveConversation failed: %v", err)
	}
	return lead, conv
}

func TestBuildTranscriptOrdersAndMapsRoles(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	lead, conv := seedConversation(t, st)

	base := time.Now().UTC().Add(-time.Hour)
	seed := []struct {
		text     string
		fromLead bool
	}{
		{"Hi Riley, still interested in a quick chat?", false},
		{"Maybe, what times do you have?", true},
		{"How about Thursday afternoon?", false},
	}
	for i, m := range seed {
		msg := &models.Message{
			ConversationID: conv.ID,
			Content:        m.text,
			IsFromLead:     m.fromLead,
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	tr, err := NewTranscriptBuilder(st).Build(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tr.MessageCount() != 3 {
		t.Fatalf("expected 3 entries, got %d", tr.MessageCount())
	}
	wantRoles := []Role{RoleAgent, RoleLead, RoleAgent}
	for i, entry := range tr.Entries {
		if entry.Role != wantRoles[i] {
			t.Errorf("entry %d: expected role %q, got %q", i, wantRoles[i], entry.Role)
		}
		if entry.Text != seed[i].text {
			t.Errorf("entry %d: expected %q, got %q", i, seed[i].text, entry.Text)
		}
	}
	if tr.Lead.Name != lead.Name {
		t.Errorf("expected lead snapshot, got %+v", tr.Lead)
	}
	if tr.Conversation.State != models.StateNew {
		t.Errorf("expected state snapshot new, got %q", tr.Conversation.State)
	}
}

func TestBuildTranscriptNotFound(t *testing.T) {
	st := store.NewInMemoryStore()
	_, err := NewTranscriptBuilder(st).Build(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLastLeadMessage(t *testing.T) {
	tr := &Transcript{Entries: []Entry{
		{Role: RoleAgent, Text: "hello"},
		{Role: RoleLead, Text: "first reply"},
		{Role: RoleAgent, Text: "follow up"},
		{Role: RoleLead, Text: "second reply"},
		{Role: RoleAgent, Text: "closer"},
	}}
	if got := tr.LastLeadMessage(); got != "second reply" {
		t.Errorf("expected most recent lead message, got %q", got)
	}

	empty := &Transcript{Entries: []Entry{{Role: RoleAgent, Text: "cold open"}}}
	if got := empty.LastLeadMessage(); got != "" {
		t.Errorf("expected empty for agent-only transcript, got %q", got)
	}
}

func TestEvidenceDerivation(t *testing.T) {
	contact := time.Now().UTC()
	tr := &Transcript{
		Entries:      []Entry{{Role: RoleLead, Text: "hi"}},
		Conversation: models.Conversation{LastContact: &contact},
	}
	ev := tr.Evidence()
	if ev.LastLeadMessage != "hi" || ev.MessageCount != 1 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
	if ev.LastContact == nil || !ev.LastContact.Equal(contact) {
		t.Errorf("expected last contact carried into evidence")
	}
}
