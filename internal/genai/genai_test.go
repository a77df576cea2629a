package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
)

// fakeChat records the request and returns a canned completion.
type fakeChat struct {
	lastParams openai.ChatCompletionNewParams
	reply      string
	err        error
	delay      time.Duration
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.lastParams = params
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func newTestClient(chat chatService) *Client {
	return &Client{
		chat:        chat,
		model:       DefaultModel,
		bookingLink: "https://calendly.com/acme/intro",
		timeout:     time.Second,
	}
}

func sampleTranscript() *engine.Transcript {
	return &engine.Transcript{
		ConversationID: "conv-1",
		Entries: []engine.Entry{
			{Role: engine.RoleAgent, Text: "Hi Riley, still interested?"},
			{Role: engine.RoleLead, Text: "Yes, how do I book?"},
		},
		Lead:         models.Lead{Name: "Riley Chen", PhoneNumber: "+15551234567"},
		Conversation: models.Conversation{State: models.StateEngaged},
	}
}

func TestGenerateReply(t *testing.T) {
	chat := &fakeChat{reply: "  Great! Grab a slot here: https://calendly.com/acme/intro  "}
	c := newTestClient(chat)

	reply, err := c.GenerateReply(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("GenerateReply failed: %v", err)
	}
	if reply != "Great! Grab a slot here: https://calendly.com/acme/intro" {
		t.Errorf("expected trimmed reply, got %q", reply)
	}

	// System message plus both transcript turns.
	if len(chat.lastParams.Messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(chat.lastParams.Messages))
	}
}

func TestGenerateReplyColdOutreach(t *testing.T) {
	chat := &fakeChat{reply: "Hi Riley! This is Acme - quick question for you."}
	c := newTestClient(chat)

	tr := sampleTranscript()
	tr.Entries = nil
	if _, err := c.GenerateReply(context.Background(), tr); err != nil {
		t.Fatalf("GenerateReply failed: %v", err)
	}
	// System message plus the fixed first-turn prompt.
	if len(chat.lastParams.Messages) != 2 {
		t.Errorf("expected 2 messages for cold outreach, got %d", len(chat.lastParams.Messages))
	}
}

func TestGenerateReplyProviderError(t *testing.T) {
	chat := &fakeChat{err: errors.New("rate limited")}
	c := newTestClient(chat)

	_, err := c.GenerateReply(context.Background(), sampleTranscript())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestGenerateReplyTimeout(t *testing.T) {
	chat := &fakeChat{reply: "too late", delay: 5 * time.Second}
	c := newTestClient(chat)
	c.timeout = 20 * time.Millisecond

	_, err := c.GenerateReply(context.Background(), sampleTranscript())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed on timeout, got %v", err)
	}
}

func TestGenerateReplyEmptyCompletion(t *testing.T) {
	chat := &fakeChat{reply: "   "}
	c := newTestClient(chat)

	_, err := c.GenerateReply(context.Background(), sampleTranscript())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed for empty completion, got %v", err)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	c := newTestClient(&fakeChat{})
	tr := sampleTranscript()
	tr.Conversation.BookingLinkSent = true

	prompt := c.buildSystemPrompt(tr)
	for _, want := range []string{
		"Riley Chen",
		"Current State: engaged",
		"Booking Link Sent: Yes",
		"Booking Completed: No",
		"https://calendly.com/acme/intro",
		"under 160 characters",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key is not set")
	}
}
