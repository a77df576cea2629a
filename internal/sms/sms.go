// Package sms wraps the Twilio API for SMS delivery in LeadPulse.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/leadpulse/leadpulse/internal/models"
)

// DefaultTimeout bounds a single transport call.
const DefaultTimeout = 15 * time.Second

// ErrSendTimeout marks a delivery attempt that exceeded the transport
// timeout. It is recorded on the message as a distinguishable delivery
// error; retries, if any, belong to the transport provider.
var ErrSendTimeout = errors.New("sms send timed out")

// Sender delivers content to a phone number, returning the provider's
// message id or a failure.
type Sender interface {
	Send(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithTimeout bounds each transport call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the Twilio REST API for SMS.
type Client struct {
	client  *twilio.RestClient
	from    string
	timeout time.Duration
}

var _ Sender = (*Client)(nil)

// NewClient creates a Twilio SMS client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER
// environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{client: client, from: cfg.FromNumber, timeout: cfg.Timeout}, nil
}

// Send delivers an SMS and returns the provider message SID. The Twilio
// SDK call has no context support, so it runs under a watchdog that
// converts deadline expiry into ErrSendTimeout.
func (c *Client) Send(ctx context.Context, to string, body string) (string, error) {
	canonical, err := models.CanonicalizePhone(to)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(canonical)
	params.SetFrom(c.from)
	params.SetBody(body)

	type sendOutcome struct {
		sid string
		err error
	}
	done := make(chan sendOutcome, 1)
	go func() {
		resp, err := c.client.Api.CreateMessage(params)
		if err != nil {
			done <- sendOutcome{err: err}
			return
		}
		var sid string
		if resp.Sid != nil {
			sid = *resp.Sid
		}
		done <- sendOutcome{sid: sid}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			slog.Error("Twilio Send failed", "to", canonical, "error", outcome.err)
			return "", fmt.Errorf("failed to send message to %s: %w", canonical, outcome.err)
		}
		slog.Debug("Twilio message sent", "to", canonical, "sid", outcome.sid)
		return outcome.sid, nil
	case <-ctx.Done():
		slog.Error("Twilio Send timed out", "to", canonical, "timeout", c.timeout)
		return "", fmt.Errorf("send to %s: %w", canonical, ErrSendTimeout)
	}
}

// MockSender records sent messages for tests.
type MockSender struct {
	SentMessages []SentMessage
	NextSID      string
	Err          error
}

// SentMessage is one recorded mock delivery.
type SentMessage struct {
	To   string
	Body string
}

var _ Sender = (*MockSender)(nil)

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{NextSID: "SM_mock"}
}

func (m *MockSender) Send(ctx context.Context, to string, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return m.NextSID, nil
}
