package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/coachloop/coachloop-backend/pkg/config"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

var (
	errAPIKeyRequired = errors.New("sendgrid api key is required")
	errFromRequired   = errors.New("sendgrid from address is required")
)

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Message is a single transactional email.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Client wraps the SendGrid mail client with the configured sender identity.
type Client struct {
	send     sender
	fromName string
	fromAddr string
}

// NewClient builds a SendGrid-backed email client.
func NewClient(ctx context.Context, cfg config.SendgridConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	fromAddr := strings.TrimSpace(cfg.DefaultFrom)
	if fromAddr == "" {
		return nil, errFromRequired
	}

	if logg != nil {
		logg.Info(ctx, "sendgrid client initialized")
	}

	return &Client{
		send:     sendgrid.NewSendClient(apiKey),
		fromName: cfg.FromName,
		fromAddr: fromAddr,
	}, nil
}

// Send delivers a single message through SendGrid.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil || c.send == nil {
		return errors.New("email client not initialized")
	}
	if strings.TrimSpace(msg.ToAddress) == "" {
		return errors.New("recipient address is required")
	}

	from := mail.NewEmail(c.fromName, c.fromAddr)
	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	body := msg.PlainBody
	html := msg.HTMLBody
	if html == "" {
		html = body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, body, html)

	resp, err := c.send.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected email: status %d", resp.StatusCode)
	}
	return nil
}
