package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailConfig configures confirmation emails.
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	StoreName string
	Location  *time.Location
}

// EmailNotifier sends the customer a confirmation email through SendGrid.
type EmailNotifier struct {
	client mailSender
	from   *mail.Email
	store  string
	loc    *time.Location
}

// NewEmailNotifier builds a SendGrid backed notifier.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("notify: sendgrid api key is required")
	}
	return newEmailNotifier(sendgrid.NewSendClient(cfg.APIKey), cfg)
}

func newEmailNotifier(client mailSender, cfg EmailConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("notify: from email is required")
	}
	store := cfg.StoreName
	if store == "" {
		store = cfg.FromName
	}
	return &EmailNotifier{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		store:  store,
		loc:    cfg.Location,
	}, nil
}

// OrderConfirmed emails the receipt. Orders without a customer email are skipped.
func (n *EmailNotifier) OrderConfirmed(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.Customer.Email) == "" {
		return nil
	}
	to := mail.NewEmail(order.Customer.Name, order.Customer.Email)
	subject := fmt.Sprintf("%s order %s confirmed", n.store, order.OrderNumber)
	plain, htmlBody := n.render(order)

	resp, err := n.client.SendWithContext(ctx, mail.NewSingleEmail(n.from, subject, to, plain, htmlBody))
	if err != nil {
		return fmt.Errorf("notify: send email for %s: %w", order.OrderNumber, err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("notify: sendgrid returned %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

func (n *EmailNotifier) render(order domain.Order) (string, string) {
	header := []string{
		fmt.Sprintf("Thanks %s, your order %s is confirmed.", order.Customer.Name, order.OrderNumber),
	}
	if line := fulfilmentLine(order, n.loc); line != "" {
		header = append(header, line)
	}
	if order.EstimatedReady != nil {
		t := *order.EstimatedReady
		if n.loc != nil {
			t = t.In(n.loc)
		}
		header = append(header, "Estimated ready: "+t.Format("3:04 PM"))
	}
	body := summaryLines(order)

	plain := strings.Join(header, "\n") + "\n\n" + strings.Join(body, "\n") + "\n"

	var b strings.Builder
	for _, line := range header {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(strings.Join(body, "\n")))
	b.WriteString("</pre>")
	return plain, b.String()
}
