// Package webhook reconciles inbound transport callbacks.
//
// The reconciler sits between the HTTP layer and the orchestrator: it
// normalizes provider payloads, deduplicates retried callbacks on the
// provider message id, and always produces an acknowledgement so the
// provider never sees a processing failure and re-fires.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Receiver processes a normalized inbound message.
type Receiver interface {
	Receive(ctx context.Context, fromPhone, body string) (*models.ReceiveResult, error)
}

// InboundPayload is the normalized form of a provider callback.
type InboundPayload struct {
	From       string
	Body       string
	MessageSID string
}

// Reconciler turns raw provider callbacks into orchestrator work.
type Reconciler struct {
	receiver Receiver
	dedup    store.DedupRepo
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(receiver Receiver, dedup store.DedupRepo) *Reconciler {
	return &Reconciler{
		receiver: receiver,
		dedup:    dedup,
		logger:   slog.Default().With("component", "webhook"),
	}
}

// Normalize validates a raw callback's fields. Missing sender, body, or
// message id is a malformed payload.
func Normalize(from, body, messageSID string) (*InboundPayload, error) {
	from = strings.TrimSpace(from)
	body = strings.TrimSpace(body)
	messageSID = strings.TrimSpace(messageSID)
	if from == "" || body == "" || messageSID == "" {
		return nil, models.ErrMalformedPayload
	}
	return &InboundPayload{From: from, Body: body, MessageSID: messageSID}, nil
}

// Process handles one normalized callback. Duplicates are acknowledged
// without reprocessing; downstream failures are folded into the
// acknowledgement rather than raised.
func (r *Reconciler) Process(ctx context.Context, payload *InboundPayload) *models.WebhookResult {
	fresh, err := r.dedup.RecordInbound(ctx, payload.MessageSID, payload.From)
	if err != nil {
		// Without a dedup verdict, process anyway: a possible double
		// reply beats dropping a lead's message.
		r.logger.Error("Webhook Process dedup record failed", "messageSID", payload.MessageSID, "error", err)
		fresh = true
	}
	if !fresh {
		r.logger.Info("Webhook Process duplicate callback", "messageSID", payload.MessageSID)
		return &models.WebhookResult{Accepted: true, Duplicate: true}
	}

	result, err := r.receiver.Receive(ctx, payload.From, payload.Body)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Webhook Process message from unknown number", "from", payload.From)
			return &models.WebhookResult{Accepted: true, Detail: "unknown sender"}
		}
		r.logger.Error("Webhook Process inbound handling failed", "messageSID", payload.MessageSID, "error", err)
		return &models.WebhookResult{Accepted: true, Detail: err.Error()}
	}

	if err := r.dedup.MarkProcessed(ctx, payload.MessageSID); err != nil {
		r.logger.Error("Webhook Process mark processed failed", "messageSID", payload.MessageSID, "error", err)
	}
	detail := ""
	if result.Error != "" {
		detail = result.Error
	}
	return &models.WebhookResult{Accepted: true, Detail: detail}
}
