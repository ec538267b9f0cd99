package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/elara/pkg/llm"
)

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSTool sends text messages over Twilio. It also backs reminders:
// create_reminder delivers the reminder text to the user's own number.
type SMSTool struct {
	cfg    TwilioConfig
	client messageCreator
}

func NewSMSTool(cfg TwilioConfig) *SMSTool {
	return &SMSTool{cfg: cfg}
}

func (s *SMSTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "send_sms",
		Description: "Send a text message to a phone number",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":   map[string]any{"type": "string", "description": "Recipient phone number in E.164 format"},
				"body": map[string]any{"type": "string", "description": "Message text"},
			},
			"required": []string{"to", "body"},
		},
	}
}

type smsArgs struct {
	To   string `mapstructure:"to"`
	Body string `mapstructure:"body"`
}

func (s *SMSTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	var a smsArgs
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(a.To) == "" || strings.TrimSpace(a.Body) == "" {
		return Result{}, errors.New("to/body required")
	}
	if err := s.send(a.To, a.Body); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Message sent to %s.", a.To)}, nil
}

func (s *SMSTool) send(to, body string) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	client := s.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.cfg.AccountSID,
			Password: s.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.FromNumber)
	params.SetBody(body)
	resp, err := client.CreateMessage(params)
	if err != nil {
		return err
	}
	if resp == nil || resp.Sid == nil {
		return errors.New("missing message sid")
	}
	return nil
}

// ReminderTool acknowledges a reminder and, when a user number is
// known, texts the reminder so it surfaces on the device.
type ReminderTool struct {
	sms        *SMSTool
	userNumber string
}

func NewReminderTool(sms *SMSTool, userNumber string) *ReminderTool {
	return &ReminderTool{sms: sms, userNumber: userNumber}
}

func (r *ReminderTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "create_reminder",
		Description: "Create a reminder for the user",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":     map[string]any{"type": "string", "description": "Reminder text"},
				"datetime": map[string]any{"type": "string", "description": "When to remind (ISO 8601)"},
			},
			"required": []string{"text", "datetime"},
		},
	}
}

type reminderArgs struct {
	Text     string `mapstructure:"text"`
	Datetime string `mapstructure:"datetime"`
}

func (r *ReminderTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	var a reminderArgs
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(a.Text) == "" || strings.TrimSpace(a.Datetime) == "" {
		return Result{}, errors.New("text/datetime required")
	}
	if r.sms != nil && r.userNumber != "" {
		if err := r.sms.send(r.userNumber, fmt.Sprintf("Reminder for %s: %s", a.Datetime, a.Text)); err != nil {
			return Result{}, err
		}
	}
	return Result{Text: fmt.Sprintf("Reminder created: %q for %s", a.Text, a.Datetime)}, nil
}
