package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

type recordingRunner struct {
	st      *store.InMemoryStore
	calls   []string
	next    models.ConversationState
	skipped bool
}

func (r *recordingRunner) GenerateAndMaybeSend(ctx context.Context, conversationID string) (*models.GenerateResult, error) {
	r.calls = append(r.calls, conversationID)
	if r.next != "" {
		conv, err := r.st.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		conv.State = r.next
		if err := r.st.UpdateConversationState(ctx, conv); err != nil {
			return nil, err
		}
	}
	if r.skipped {
		return &models.GenerateResult{Skipped: true, SkipReason: "terminal"}, nil
	}
	return &models.GenerateResult{Reply: "just checking in"}, nil
}

func seedConversation(t *testing.T, st *store.InMemoryStore, phone string, state models.ConversationState, lastContact time.Time) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	lead := &models.Lead{Name: "Sweep Lead " + phone, PhoneNumber: phone}
	if err := st.CreateLead(ctx, lead); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	conv, err := st.FindOrCreateActiveConversation(ctx, lead.ID, state)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	conv.LastContact = &lastContact
	if err := st.UpdateConversationState(ctx, conv); err != nil {
		t.Fatalf("set last contact: %v", err)
	}
	return conv
}

func TestRunSweepTouchesOnlyStaleEngaged(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	threshold := 72 * time.Hour

	stale := seedConversation(t, st, "+15550000001", models.StateEngaged, now.Add(-100*time.Hour))
	seedConversation(t, st, "+15550000002", models.StateEngaged, now.Add(-1*time.Hour))
	seedConversation(t, st, "+15550000003", models.StateOptedOut, now.Add(-200*time.Hour))

	runner := &recordingRunner{st: st, next: models.StateUnresponsive}
	s := New(st, runner, threshold)

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != stale.ID {
		t.Errorf("expected only the stale engaged conversation to get a reply cycle, got %v", runner.calls)
	}

	updated, _ := st.GetConversation(context.Background(), stale.ID)
	if updated.State != models.StateUnresponsive {
		t.Errorf("expected unresponsive after sweep, got %s", updated.State)
	}
}

func TestRunSweepHonorsLimit(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()

	seedConversation(t, st, "+15550000011", models.StateEngaged, now.Add(-100*time.Hour))
	seedConversation(t, st, "+15550000012", models.StateEngaged, now.Add(-101*time.Hour))
	seedConversation(t, st, "+15550000013", models.StateEngaged, now.Add(-102*time.Hour))

	runner := &recordingRunner{st: st}
	s := New(st, runner, 72*time.Hour, WithSweepLimit(2))

	if err := s.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected sweep limited to 2 conversations, got %d", len(runner.calls))
	}
}

func TestStartStopIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	s := New(st, &recordingRunner{st: st}, 72*time.Hour)

	if s.Running() {
		t.Error("scheduler should not run before Start")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !s.Running() {
		t.Error("scheduler should be running after Start")
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Error("scheduler should be stopped after Stop")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	st := store.NewInMemoryStore()
	s := New(st, &recordingRunner{st: st}, 72*time.Hour, WithSpec("not a cron spec"))
	if err := s.Start(); err == nil {
		t.Error("expected error for invalid cron expression")
		s.Stop()
	}
}
