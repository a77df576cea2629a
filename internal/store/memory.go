// Package store provides storage backends for LeadPulse.
//
// This file implements an in-memory store used in tests and local
// development. It honors the same invariants as the SQL backends,
// including message ordering and race-safe conversation creation.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/leadpulse/internal/models"
)

type InMemoryStore struct {
	mu            sync.RWMutex
	leads         map[string]models.Lead
	conversations map[string]models.Conversation
	messages      map[string]models.Message
	dedup         map[string]DedupRecord
	nextSeq       int64
}

// Compile-time checks that InMemoryStore implements Store and DedupRepo.
var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:         make(map[string]models.Lead),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
		dedup:         make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	if err := lead.Validate(); err != nil {
		return err
	}
	canonical, err := models.CanonicalizePhone(lead.PhoneNumber)
	if err != nil {
		return err
	}
	lead.PhoneNumber = canonical

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.leads {
		if existing.PhoneNumber == canonical {
			return fmt.Errorf("lead with phone %s already exists: %w", canonical, ErrConflict)
		}
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	s.leads[lead.ID] = *lead
	return nil
}

func (s *InMemoryStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[lead.ID]
	if !ok {
		return fmt.Errorf("lead %s: %w", lead.ID, ErrNotFound)
	}
	existing.Name = lead.Name
	existing.Email = lead.Email
	existing.AdditionalInfo = lead.AdditionalInfo
	existing.UpdatedAt = time.Now().UTC()
	s.leads[lead.ID] = existing
	*lead = existing
	return nil
}

func (s *InMemoryStore) FindLeadByID(ctx context.Context, id string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	return &lead, nil
}

func (s *InMemoryStore) FindLeadByPhone(ctx context.Context, phone string) (*models.Lead, error) {
	canonical, err := models.CanonicalizePhone(phone)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lead := range s.leads {
		if lead.PhoneNumber == canonical {
			l := lead
			return &l, nil
		}
	}
	return nil, fmt.Errorf("lead with phone %s: %w", canonical, ErrNotFound)
}

func (s *InMemoryStore) ListLeads(ctx context.Context, opts ListLeadsOptions) ([]models.Lead, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.Lead
	for _, lead := range s.leads {
		if opts.State != "" {
			match := false
			for _, conv := range s.conversations {
				if conv.LeadID == lead.ID && conv.State == opts.State {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		all = append(all, lead)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	total := len(all)
	if opts.Skip >= len(all) {
		return nil, total, nil
	}
	all = all[opts.Skip:]
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

func (s *InMemoryStore) FindOrCreateActiveConversation(ctx context.Context, leadID string, initialState models.ConversationState) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *models.Conversation
	for _, conv := range s.conversations {
		if conv.LeadID != leadID {
			continue
		}
		c := conv
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = &c
		}
	}
	if newest != nil {
		return newest, nil
	}

	now := time.Now().UTC()
	created := models.Conversation{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		State:     initialState,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[created.ID] = created
	return &created, nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return &conv, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, opts ListConversationsOptions) ([]models.Conversation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.Conversation
	for _, conv := range s.conversations {
		if opts.State != "" && conv.State != opts.State {
			continue
		}
		if opts.LeadID != "" && conv.LeadID != opts.LeadID {
			continue
		}
		all = append(all, conv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if opts.Skip >= len(all) {
		return nil, nil
	}
	all = all[opts.Skip:]
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *InMemoryStore) ListStaleConversations(ctx context.Context, state models.ConversationState, cutoff time.Time, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []models.Conversation
	for _, conv := range s.conversations {
		if conv.State != state || conv.LastContact == nil {
			continue
		}
		if conv.LastContact.Before(cutoff) {
			stale = append(stale, conv)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].LastContact.Before(*stale[j].LastContact) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *InMemoryStore) UpdateConversationState(ctx context.Context, conv *models.Conversation) error {
	if !conv.State.IsValid() {
		return models.ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	existing.State = conv.State
	existing.LastContact = conv.LastContact
	existing.BookingLinkSent = conv.BookingLinkSent
	existing.BookingLinkClicked = conv.BookingLinkClicked
	existing.BookingCompleted = conv.BookingCompleted
	existing.UpdatedAt = time.Now().UTC()
	s.conversations[conv.ID] = existing
	conv.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Content == "" {
		return models.ErrEmptyContent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	s.nextSeq++
	msg.Seq = s.nextSeq
	s.messages[msg.ID] = *msg
	return nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs, nil
}

func (s *InMemoryStore) UpdateMessageDeliveryOutcome(ctx context.Context, messageID string, delivered bool, deliveryError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	msg.Delivered = delivered
	msg.DeliveryError = deliveryError
	s.messages[messageID] = msg
	return nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, leadPhone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{
		MessageID:  messageID,
		LeadPhone:  leadPhone,
		ReceivedAt: time.Now().UTC(),
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return fmt.Errorf("dedup record %s: %w", messageID, ErrNotFound)
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}
