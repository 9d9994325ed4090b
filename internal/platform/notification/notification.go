// Package notification renders clinic message templates and delivers them by
// email or SMS. Delivery is best effort: Notify logs failures and never
// returns them to the caller whose state change triggered the message.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the transport a notification is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Template ids.
const (
	AppointmentBooked          = "appointment-booked"
	AppointmentConfirmed       = "appointment-confirmed"
	AppointmentCancelled       = "appointment-cancelled"
	AppointmentCancelledClinic = "appointment-cancelled-clinic"
	AppointmentCompleted       = "appointment-completed"
	AppointmentReminder        = "appointment-reminder"
	SalaryReceipt              = "salary-receipt"
	OTPCode                    = "otp-code"
)

// Recipient holds the addresses a notification may go to. Empty addresses
// are skipped.
type Recipient struct {
	Name   string
	Email  string
	Mobile string
}

// Notification is a single delivery attempt over one channel.
type Notification struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	TemplateID string    `json:"template_id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is rendered with {{key}} substitution.
type Template struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	SMS      string    `json:"sms,omitempty"`
	Channels []Channel `json:"channels"`
}

// TemplateEngine holds the clinic templates keyed by id.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtInTemplates {
		e.RegisterTemplate(t)
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:      AppointmentBooked,
		Subject: "Appointment Booked - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nYour appointment is booked for {{date}} at {{time}}.\n\n" +
			"Primary issue: {{primary_issue}}\nAppointment ID: {{appointment_id}}\n\n" +
			"You will receive a confirmation once the doctor approves it.\n\nBest regards,\n{{clinic_name}}",
		Channels: []Channel{ChannelEmail},
	},
	{
		ID:      AppointmentConfirmed,
		Subject: "Appointment Confirmed - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nThe doctor has confirmed your appointment on {{date}} at {{time}}.\n\n" +
			"Appointment ID: {{appointment_id}}\n\nBest regards,\n{{clinic_name}}",
		SMS:      "{{clinic_name}}: your appointment on {{date}} at {{time}} is confirmed.",
		Channels: []Channel{ChannelEmail, ChannelSMS},
	},
	{
		ID:      AppointmentCancelled,
		Subject: "Appointment Cancelled - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nYour appointment on {{date}} at {{time}} has been cancelled as requested.\n\n" +
			"Best regards,\n{{clinic_name}}",
		Channels: []Channel{ChannelEmail},
	},
	{
		ID:      AppointmentCancelledClinic,
		Subject: "Appointment Cancelled - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nYour appointment on {{date}} at {{time}} has been cancelled. {{reason}}\n\n" +
			"Please contact us if you need to reschedule.\n\nBest regards,\n{{clinic_name}}",
		SMS:      "{{clinic_name}}: your appointment on {{date}} at {{time}} was cancelled. Please contact us to reschedule.",
		Channels: []Channel{ChannelEmail, ChannelSMS},
	},
	{
		ID:      AppointmentCompleted,
		Subject: "Appointment Completed - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nYour appointment has been completed. Thank you for visiting {{clinic_name}}.",
		Channels: []Channel{ChannelEmail},
	},
	{
		ID:      AppointmentReminder,
		Subject: "Appointment Reminder - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nThis is a reminder of your appointment today, {{date}} at {{time}}.\n\n" +
			"Please arrive 10 minutes early and bring your previous prescriptions and glasses.\n\nBest regards,\n{{clinic_name}}",
		SMS:      "Reminder: {{clinic_name}} appointment on {{date}} at {{time}}.",
		Channels: []Channel{ChannelEmail, ChannelSMS},
	},
	{
		ID:      SalaryReceipt,
		Subject: "Salary Payment Receipt - {{clinic_name}}",
		Body: "Dear {{staff_name}},\n\nYour salary payment has been processed.\n\nAmount: Rs. {{amount}}\nDate: {{payment_date}}\n" +
			"Payment method: {{payment_method}}\nDescription: {{description}}\n\nBest regards,\n{{clinic_name}}",
		Channels: []Channel{ChannelEmail},
	},
	{
		ID:      OTPCode,
		Subject: "Your verification code - {{clinic_name}}",
		Body: "Dear {{patient_name}},\n\nYour one-time code is {{code}}. It expires in {{ttl_minutes}} minutes.\n\n" +
			"Best regards,\n{{clinic_name}}",
		Channels: []Channel{ChannelEmail},
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

func (e *TemplateEngine) Get(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Render substitutes data into the subject and body. Keys absent from data
// are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body, sms string, err error) {
	t, ok := e.Get(templateID)
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}
	subject, body, sms = t.Subject, t.Body, t.SMS
	if sms == "" {
		sms = body
	}
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
		sms = strings.ReplaceAll(sms, placeholder, v)
	}
	return subject, body, sms, nil
}

const historySize = 200

// Manager renders templates and dispatches them over every channel the
// template names. It keeps a short in-memory history for the staff stats
// endpoint.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	defaults  map[string]string
	logger    zerolog.Logger

	mu      sync.Mutex
	history []*Notification
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, defaults map[string]string, logger zerolog.Logger) *Manager {
	return &Manager{
		email:     email,
		sms:       sms,
		templates: tpl,
		defaults:  defaults,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// Send renders templateID for to and delivers it. It returns the first
// delivery error; channels without an address are skipped.
func (m *Manager) Send(ctx context.Context, templateID string, to Recipient, data map[string]string) error {
	tpl, ok := m.templates.Get(templateID)
	if !ok {
		return fmt.Errorf("template %q not found", templateID)
	}

	merged := make(map[string]string, len(m.defaults)+len(data)+1)
	for k, v := range m.defaults {
		merged[k] = v
	}
	if to.Name != "" {
		merged["patient_name"] = to.Name
	}
	for k, v := range data {
		merged[k] = v
	}
	subject, body, smsBody, err := m.templates.Render(templateID, merged)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ch := range tpl.Channels {
		var addr string
		var sendErr error
		switch ch {
		case ChannelEmail:
			addr = to.Email
			if addr == "" {
				continue
			}
			sendErr = m.email.SendEmail(ctx, addr, subject, body)
		case ChannelSMS:
			addr = to.Mobile
			if addr == "" {
				continue
			}
			sendErr = m.sms.SendSMS(ctx, addr, smsBody)
		default:
			sendErr = fmt.Errorf("unsupported channel: %s", ch)
		}
		m.record(templateID, ch, addr, subject, sendErr)
		if sendErr != nil && firstErr == nil {
			firstErr = fmt.Errorf("send %s via %s: %w", templateID, ch, sendErr)
		}
	}
	return firstErr
}

// Notify is Send with failures logged and swallowed.
func (m *Manager) Notify(ctx context.Context, templateID string, to Recipient, data map[string]string) {
	if err := m.Send(ctx, templateID, to, data); err != nil {
		m.logger.Warn().Err(err).Str("template", templateID).Msg("notification not delivered")
	}
}

func (m *Manager) record(templateID string, ch Channel, addr, subject string, err error) {
	n := &Notification{
		ID:         uuid.NewString(),
		Channel:    ch,
		TemplateID: templateID,
		Recipient:  addr,
		Subject:    subject,
		Status:     "sent",
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		n.Status = "failed"
		n.Error = err.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, n)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

// Recent returns up to limit of the latest deliveries, newest first.
func (m *Manager) Recent(limit int) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*Notification, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Stats counts recent deliveries by status.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[string]int)
	for _, n := range m.history {
		stats[n.Status]++
	}
	return stats
}
