// Package orchestrator coordinates the LeadPulse message pipeline.
//
// It owns the outbound send sequence, the generate-and-maybe-send cycle,
// and inbound message processing. Storage, generation, and transport are
// injected so each path can be exercised in isolation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/sms"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Generator produces a reply for a conversation transcript.
type Generator interface {
	GenerateReply(ctx context.Context, tr *engine.Transcript) (string, error)
	BookingLink() string
}

// Orchestrator wires the store, transcript builder, generator, and SMS
// transport into the conversation pipeline.
type Orchestrator struct {
	store   store.Store
	builder *engine.TranscriptBuilder
	gen     Generator
	sender  sms.Sender
	cfg     engine.Config
	logger  *slog.Logger
}

// New creates an Orchestrator. A zero-valued cfg falls back to the
// engine defaults.
func New(st store.Store, gen Generator, sender sms.Sender, cfg engine.Config) *Orchestrator {
	if len(cfg.OptOutPhrases) == 0 && len(cfg.BookingPhrases) == 0 && cfg.StalenessThreshold == 0 {
		cfg = engine.DefaultConfig()
	}
	return &Orchestrator{
		store:   st,
		builder: engine.NewTranscriptBuilder(st),
		gen:     gen,
		sender:  sender,
		cfg:     cfg,
		logger:  slog.Default().With("component", "orchestrator"),
	}
}

// Config returns the transition configuration in use.
func (o *Orchestrator) Config() engine.Config {
	return o.cfg
}

// Send records and delivers one outbound message. The message row is
// written before the transport attempt so a crash mid-send leaves an
// auditable record; delivery failures are reported in the result, never
// raised.
func (o *Orchestrator) Send(ctx context.Context, conversationID, content string) (*models.SendResult, error) {
	if content == "" {
		return nil, models.ErrEmptyContent
	}
	if len(content) > models.MaxMessageLength {
		return nil, models.ErrContentTooLong
	}

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	lead, err := o.store.FindLeadByID(ctx, conv.LeadID)
	if err != nil {
		return nil, fmt.Errorf("lead for conversation %s: %w", conversationID, err)
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Content:        content,
		IsFromLead:     false,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record outbound message: %w", err)
	}

	sid, sendErr := o.sender.Send(ctx, lead.PhoneNumber, content)
	if sendErr != nil {
		o.logger.Error("Orchestrator Send delivery failed",
			"conversationID", conversationID, "messageID", msg.ID, "error", sendErr)
		if err := o.store.UpdateMessageDeliveryOutcome(ctx, msg.ID, false, sendErr.Error()); err != nil {
			o.logger.Error("Orchestrator Send outcome update failed", "messageID", msg.ID, "error", err)
		}
		metrics.RecordMessageSent("failed")
		return &models.SendResult{Success: false, MessageID: msg.ID, Error: sendErr.Error()}, nil
	}

	if err := o.store.UpdateMessageDeliveryOutcome(ctx, msg.ID, true, ""); err != nil {
		o.logger.Error("Orchestrator Send outcome update failed", "messageID", msg.ID, "error", err)
	}
	now := time.Now().UTC()
	conv.LastContact = &now
	if err := o.store.UpdateConversationState(ctx, conv); err != nil {
		o.logger.Error("Orchestrator Send last contact update failed", "conversationID", conversationID, "error", err)
	}
	metrics.RecordMessageSent("delivered")

	o.logger.Info("Orchestrator Send delivered",
		"conversationID", conversationID, "messageID", msg.ID, "providerSID", sid)
	return &models.SendResult{Success: true, MessageID: msg.ID, ProviderSID: sid}, nil
}

// SendToLead delivers a manually authored message to a lead, creating an
// engaged conversation if the lead has none yet.
func (o *Orchestrator) SendToLead(ctx context.Context, leadID, content string) (*models.SendResult, string, error) {
	conv, err := o.store.FindOrCreateActiveConversation(ctx, leadID, models.StateEngaged)
	if err != nil {
		return nil, "", err
	}
	result, err := o.Send(ctx, conv.ID, content)
	if err != nil {
		return nil, conv.ID, err
	}
	return result, conv.ID, nil
}

// GenerateAndMaybeSend runs one reply cycle for a conversation: rebuild
// the transcript, re-evaluate the state, and, unless the conversation
// landed in a sink state, generate and deliver a reply. A generation
// failure yields a skipped result; any state transition already applied
// stands.
func (o *Orchestrator) GenerateAndMaybeSend(ctx context.Context, conversationID string) (*models.GenerateResult, error) {
	tr, err := o.builder.Build(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv, err := o.applyTransition(ctx, tr)
	if err != nil {
		return nil, err
	}
	if conv.State.IsTerminal() {
		o.logger.Info("Orchestrator GenerateAndMaybeSend skipped terminal conversation",
			"conversationID", conversationID, "state", conv.State)
		return &models.GenerateResult{Skipped: true, SkipReason: fmt.Sprintf("conversation is %s", conv.State)}, nil
	}

	// Rebuild so the prompt reflects the state the transition produced.
	tr.Conversation = *conv
	reply, err := o.gen.GenerateReply(ctx, tr)
	if err != nil {
		o.logger.Error("Orchestrator GenerateAndMaybeSend generation failed",
			"conversationID", conversationID, "error", err)
		metrics.RecordGenerationFailure()
		return &models.GenerateResult{Skipped: true, SkipReason: err.Error()}, nil
	}

	if link := o.gen.BookingLink(); link != "" && !conv.BookingLinkSent && strings.Contains(reply, link) {
		conv.BookingLinkSent = true
		if err := o.store.UpdateConversationState(ctx, conv); err != nil {
			o.logger.Error("Orchestrator GenerateAndMaybeSend booking flag update failed",
				"conversationID", conversationID, "error", err)
		}
	}

	if _, err := o.Send(ctx, conversationID, reply); err != nil {
		return nil, err
	}
	return &models.GenerateResult{Reply: reply}, nil
}

// Receive processes one inbound lead message: resolve the lead, append
// the message to the active conversation, and run a reply cycle. The
// inbound record always survives, even when the reply pipeline fails.
func (o *Orchestrator) Receive(ctx context.Context, fromPhone, body string) (*models.ReceiveResult, error) {
	canonical, err := models.CanonicalizePhone(fromPhone)
	if err != nil {
		return nil, err
	}
	lead, err := o.store.FindLeadByPhone(ctx, canonical)
	if err != nil {
		return nil, err
	}
	conv, err := o.store.FindOrCreateActiveConversation(ctx, lead.ID, models.StateNew)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Content:        body,
		IsFromLead:     true,
		Delivered:      true,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record inbound message: %w", err)
	}
	now := time.Now().UTC()
	conv.LastContact = &now
	if err := o.store.UpdateConversationState(ctx, conv); err != nil {
		o.logger.Error("Orchestrator Receive last contact update failed", "conversationID", conv.ID, "error", err)
	}
	metrics.RecordInboundMessage()
	o.logger.Info("Orchestrator Receive recorded inbound message",
		"conversationID", conv.ID, "leadID", lead.ID)

	gen, err := o.GenerateAndMaybeSend(ctx, conv.ID)
	if err != nil {
		// The inbound message is already persisted; report the failed
		// reply cycle instead of raising.
		o.logger.Error("Orchestrator Receive reply cycle failed", "conversationID", conv.ID, "error", err)
		return &models.ReceiveResult{Success: true, ConversationID: conv.ID, Error: err.Error()}, nil
	}
	result := &models.ReceiveResult{Success: true, ConversationID: conv.ID, Reply: gen.Reply}
	if gen.Skipped {
		result.Error = gen.SkipReason
	}
	return result, nil
}

// applyTransition evaluates the transition rules against a transcript
// and persists the decision if the state changed.
func (o *Orchestrator) applyTransition(ctx context.Context, tr *engine.Transcript) (*models.Conversation, error) {
	conv := tr.Conversation
	decision := engine.Evaluate(conv.State, tr.Evidence(), o.cfg)
	if !decision.Changed {
		return &conv, nil
	}

	prev := conv.State
	conv.State = decision.Next
	if decision.BookingCompleted {
		conv.BookingCompleted = true
	}
	if err := o.store.UpdateConversationState(ctx, &conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("persist transition %s to %s: %w", prev, decision.Next, err)
	}
	metrics.RecordStateTransition(string(prev), string(decision.Next))
	o.logger.Info("Orchestrator transition applied",
		"conversationID", conv.ID, "from", prev, "to", decision.Next)
	return &conv, nil
}
