package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// EmailToolName is the registry name of the email tool.
const EmailToolName = "send_email"

// Mail is an outgoing plain-text message.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

// checkHeaders rejects line breaks in fields written into message headers.
func (m Mail) checkHeaders() error {
	for _, to := range m.To {
		if strings.ContainsAny(to, "\r\n") {
			return fmt.Errorf("recipient %q contains a line break", to)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("subject contains a line break")
	}
	return nil
}

// MailSender delivers a message and returns its Message-ID.
type MailSender interface {
	Send(ctx context.Context, m Mail) (string, error)
}

// SMTPSender sends mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

func (s *SMTPSender) Send(ctx context.Context, m Mail) (string, error) {
	if err := m.checkHeaders(); err != nil {
		return "", err
	}
	if s.Addr == "" {
		return "", fmt.Errorf("smtp relay not configured")
	}
	domain := "localhost"
	if at := strings.LastIndex(s.From, "@"); at >= 0 {
		domain = s.From[at+1:]
	}
	msgID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", msgID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", m.Subject)
	fmt.Fprintf(&b, "%s\r\n", m.Body)

	var auth sasl.Client
	if s.Username != "" {
		auth = sasl.NewPlainClient("", s.Username, s.Password)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(s.Addr, auth, s.From, m.To, strings.NewReader(b.String()))
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return msgID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// NewEmailTool returns the send_email tool backed by sender.
func NewEmailTool(sender MailSender) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        EmailToolName,
			Description: "Send an email. Input: to (address or list), subject, message.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"to":      {Type: "any", Description: "recipient address or list of addresses"},
					"subject": {Type: "string", Description: "subject line"},
					"message": {Type: "string", Description: "plain-text body"},
				},
				Required: []string{"to", "subject", "message"},
			},
		},
		Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
			to := strList(input, "to")
			if len(to) == 0 {
				return "", &ToolError{Kind: ErrInvalidInput, Tool: EmailToolName, Detail: "no recipients"}
			}
			mail := Mail{To: to, Subject: str(input, "subject"), Body: str(input, "message")}
			if err := mail.checkHeaders(); err != nil {
				return "", &ToolError{Kind: ErrInvalidInput, Tool: EmailToolName, Detail: err.Error()}
			}
			id, err := sender.Send(ctx, mail)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Email sent to %s (message id %s)", strings.Join(to, ", "), id), nil
		},
	}
}
