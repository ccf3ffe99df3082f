// Package notification dispatches best-effort email/SMS messages for
// appointment lifecycle events. Delivery failures are logged and never affect
// appointment state.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the delivery channel for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Appointment lifecycle events that trigger notifications.
const (
	EventBookingCreated   = "booking-created"
	EventPaymentConfirmed = "payment-confirmed"
	EventConfirmed        = "appointment-confirmed"
	EventCancelled        = "appointment-cancelled"
	EventCompleted        = "appointment-completed"
	EventRescheduled      = "appointment-rescheduled"
	EventReminder24h      = "reminder-24h"
	EventReminder1h       = "reminder-1h"
)

// Recipient identifies where a notification goes.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Message is a single outbound notification.
type Message struct {
	ID        string     `json:"id"`
	Channel   Channel    `json:"channel"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body"`
	Event     string     `json:"event"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Dispatcher is what lifecycle code depends on: fire an event at a recipient
// and never block the caller's state transition on the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, to Recipient, event string, data map[string]string)
}

// Template defines a reusable message template. Placeholders use {{key}}.
type Template struct {
	Event   string
	Subject string
	Body    string
	SMSBody string
}

// TemplateEngine holds the event templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in appointment
// templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Event:   EventBookingCreated,
			Subject: "Appointment Requested",
			Body:    "Hello {{name}}, your appointment with Dr. {{doctor}} on {{when}} is reserved. Please complete payment within {{hold_minutes}} minutes to confirm it.",
			SMSBody: "Appointment with Dr. {{doctor}} on {{when}} reserved. Complete payment to confirm.",
		},
		{
			Event:   EventPaymentConfirmed,
			Subject: "Appointment Confirmation",
			Body:    "Hello {{name}}, thank you for your payment of {{amount}}. Your appointment with Dr. {{doctor}} is confirmed for {{when}}. Your invoice is {{invoice_id}}.",
			SMSBody: "Appointment confirmed: {{when}} with Dr. {{doctor}}.",
		},
		{
			Event:   EventConfirmed,
			Subject: "Appointment Accepted",
			Body:    "Hello {{name}}, Dr. {{doctor}} has accepted your appointment on {{when}}.",
			SMSBody: "Dr. {{doctor}} accepted your appointment on {{when}}.",
		},
		{
			Event:   EventCancelled,
			Subject: "Appointment Cancelled",
			Body:    "Hello {{name}}, the appointment with Dr. {{doctor}} on {{when}} has been cancelled.",
			SMSBody: "Appointment with Dr. {{doctor}} on {{when}} cancelled.",
		},
		{
			Event:   EventCompleted,
			Subject: "Appointment Completed",
			Body:    "Hello {{name}}, your appointment with Dr. {{doctor}} on {{when}} has been marked as completed.\nNotes: {{notes}}\nPrescription: {{prescription}}",
			SMSBody: "Your appointment with Dr. {{doctor}} on {{when}} is completed. Notes sent to your email.",
		},
		{
			Event:   EventRescheduled,
			Subject: "Appointment Rescheduled",
			Body:    "Hello {{name}}, your appointment with Dr. {{doctor}} has been moved to {{when}}.",
			SMSBody: "Appointment with Dr. {{doctor}} moved to {{when}}.",
		},
		{
			Event:   EventReminder24h,
			Subject: "Reminder: Appointment in 24h",
			Body:    "Hello {{name}}, this is a reminder of your appointment with Dr. {{doctor}} on {{when}}.",
			SMSBody: "Reminder: appointment with Dr. {{doctor}} on {{when}} (24h left).",
		},
		{
			Event:   EventReminder1h,
			Subject: "Reminder: Appointment in 1h",
			Body:    "Hello {{name}}, your appointment with Dr. {{doctor}} starts at {{when}}.",
			SMSBody: "Reminder: appointment with Dr. {{doctor}} on {{when}} (1h left).",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Event] = &t
	}
}

// RegisterTemplate adds or replaces an event template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Event] = &t
}

// Render looks up the template for an event and performs {{key}} replacement.
// Keys present in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(event string, data map[string]string) (subject, body, smsBody string, err error) {
	e.mu.RLock()
	t, ok := e.templates[event]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("no template for event %q", event)
	}

	subject, body, smsBody = t.Subject, t.Body, t.SMSBody
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
		smsBody = strings.ReplaceAll(smsBody, placeholder, v)
	}
	return subject, body, smsBody, nil
}

// Service renders event templates and fans them out over email and SMS.
// Failed sends are retried up to MaxAttempts, then logged and dropped.
type Service struct {
	email       EmailSender
	sms         SMSSender
	templates   *TemplateEngine
	logger      zerolog.Logger
	maxAttempts int

	mu   sync.RWMutex
	sent map[string]*Message
}

// NewService constructs a notification Service.
func NewService(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Service {
	return &Service{
		email:       email,
		sms:         sms,
		templates:   tpl,
		logger:      logger,
		maxAttempts: 3,
		sent:        make(map[string]*Message),
	}
}

// Dispatch renders the event template and sends it to every channel the
// recipient has an address for. Errors are logged, never returned; a committed
// appointment transition must not be rolled back by a delivery failure.
func (s *Service) Dispatch(ctx context.Context, to Recipient, event string, data map[string]string) {
	subject, body, smsBody, err := s.templates.Render(event, data)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("notification template missing")
		return
	}
	if to.Email != "" {
		s.deliver(ctx, &Message{
			Channel:   ChannelEmail,
			Recipient: to.Email,
			Subject:   subject,
			Body:      body,
			Event:     event,
		})
	}
	if to.Phone != "" {
		s.deliver(ctx, &Message{
			Channel:   ChannelSMS,
			Recipient: to.Phone,
			Body:      smsBody,
			Event:     event,
		})
	}
}

func (s *Service) deliver(ctx context.Context, m *Message) {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()
	m.Status = "pending"

	var sendErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		switch m.Channel {
		case ChannelEmail:
			sendErr = s.email.SendEmail(ctx, m.Recipient, m.Subject, m.Body)
		case ChannelSMS:
			sendErr = s.sms.SendSMS(ctx, m.Recipient, m.Body)
		default:
			sendErr = fmt.Errorf("unsupported channel: %s", m.Channel)
		}
		if sendErr == nil {
			break
		}
	}

	if sendErr != nil {
		m.Status = "failed"
		m.Error = sendErr.Error()
		s.logger.Error().Err(sendErr).
			Str("channel", string(m.Channel)).
			Str("event", m.Event).
			Msg("notification delivery failed")
	} else {
		m.Status = "sent"
		sentAt := time.Now().UTC()
		m.SentAt = &sentAt
	}

	s.mu.Lock()
	s.sent[m.ID] = m
	s.mu.Unlock()
}

// Sent returns a copy of recorded messages, most useful in tests and the admin
// notification view.
func (s *Service) Sent() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m)
	}
	return out
}

// ---------------------------------------------------------------------------
// Mock senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
