// Package genai provides reply generation for LeadPulse using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/leadpulse/leadpulse/internal/engine"
)

// Generation parameters matching the SMS use case: short, warm replies.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4o
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 30 * time.Second
	// DefaultBookingLink is used when no booking link is configured.
	DefaultBookingLink = "https://calendly.com/example/sales-call"

	generationTemperature = 0.7
	generationMaxTokens   = 150
	// coldOutreachPrompt seeds generation when the transcript is empty.
	coldOutreachPrompt = "This is a new lead that needs to be contacted. Generate an initial outreach message."
)

// ErrGenerationFailed wraps provider errors and timeouts. Callers treat
// it as a recoverable skip, not a fatal condition.
var ErrGenerationFailed = errors.New("generation failed")

// chatService is the minimal surface of the OpenAI chat completions
// client, extracted for testability.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the generation client.
type Opts struct {
	APIKey      string
	Model       openai.ChatModel
	BookingLink string
	Timeout     time.Duration
}

// Option defines a configuration option for the generation client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBookingLink sets the booking link offered in generated replies.
func WithBookingLink(link string) Option {
	return func(o *Opts) { o.BookingLink = link }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client generates conversational SMS replies from transcripts.
type Client struct {
	chat        chatService
	model       openai.ChatModel
	bookingLink string
	timeout     time.Duration
}

// NewClient initializes a generation client. The API key falls back to
// the OPENAI_API_KEY environment variable, the booking link to
// BOOKING_LINK.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BookingLink == "" {
		cfg.BookingLink = os.Getenv("BOOKING_LINK")
	}
	if cfg.BookingLink == "" {
		cfg.BookingLink = DefaultBookingLink
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		bookingLink: cfg.BookingLink,
		timeout:     cfg.Timeout,
	}, nil
}

// BookingLink returns the configured booking link.
func (c *Client) BookingLink() string {
	return c.bookingLink
}

// GenerateReply produces the next agent message for the transcript.
// The call is bounded by the configured timeout; timeouts and provider
// errors are wrapped in ErrGenerationFailed.
func (c *Client) GenerateReply(ctx context.Context, tr *engine.Transcript) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(c.buildSystemPrompt(tr)),
	}
	for _, entry := range tr.Entries {
		if entry.Role == engine.RoleLead {
			messages = append(messages, openai.UserMessage(entry.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(entry.Text))
		}
	}
	// Cold outreach: no history yet, seed with the first-turn prompt.
	if len(tr.Entries) == 0 {
		messages = append(messages, openai.UserMessage(coldOutreachPrompt))
	}

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(generationTemperature),
		MaxTokens:   openai.Int(generationMaxTokens),
	})
	if err != nil {
		slog.Error("GenAI GenerateReply failed", "error", err, "conversationID", tr.ConversationID)
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrGenerationFailed)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}
	slog.Debug("GenAI GenerateReply succeeded", "conversationID", tr.ConversationID, "length", len(reply))
	return reply, nil
}

// buildSystemPrompt renders lead facts and conversation state into the
// instruction set for the model.
func (c *Client) buildSystemPrompt(tr *engine.Transcript) string {
	lead := tr.Lead
	conv := tr.Conversation

	additional := lead.AdditionalInfo
	if additional == "" {
		additional = "None provided"
	}

	var b strings.Builder
	b.WriteString("You are an AI assistant managing SMS conversations with potential leads for a business. ")
	b.WriteString("Your goal is to engage the lead in a friendly conversation and ultimately encourage them to book a sales call.\n\n")
	fmt.Fprintf(&b, "Lead Information:\n- Name: %s\n- Additional Info: %s\n\n", lead.Name, additional)
	fmt.Fprintf(&b, "Conversation State:\n- Current State: %s\n- Messages Exchanged: %d\n- Booking Link Sent: %s\n- Booking Completed: %s\n\n",
		conv.State, tr.MessageCount(), yesNo(conv.BookingLinkSent), yesNo(conv.BookingCompleted))
	fmt.Fprintf(&b, "Booking Link: %s\n\n", c.bookingLink)
	b.WriteString("Guidelines:\n")
	b.WriteString("1. Be friendly, professional, and concise - remember this is SMS.\n")
	b.WriteString("2. Keep messages under 160 characters when possible.\n")
	b.WriteString("3. Use the lead's name at appropriate times.\n")
	b.WriteString("4. Recognize when the lead is asking questions and answer helpfully.\n")
	b.WriteString("5. Share the booking link when the lead shows interest or asks how to proceed.\n")
	b.WriteString("6. Respect opt-out requests and acknowledge them politely.\n")
	b.WriteString("7. Don't be pushy but guide the conversation toward booking a call.\n")
	b.WriteString("8. If the lead says they've booked a call, express gratitude and confirm.\n\n")
	b.WriteString("If you determine that sharing the booking link is appropriate, include it in your response.")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
