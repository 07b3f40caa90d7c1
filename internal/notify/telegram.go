package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// KitchenNotifier posts a ticket for each confirmed order to a Telegram chat.
type KitchenNotifier struct {
	bot    chatSender
	chatID int64
	loc    *time.Location
}

// NewKitchenNotifier connects to the Bot API with token.
func NewKitchenNotifier(token string, chatID int64, loc *time.Location) (*KitchenNotifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("notify: telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	return newKitchenNotifier(bot, chatID, loc)
}

func newKitchenNotifier(bot chatSender, chatID int64, loc *time.Location) (*KitchenNotifier, error) {
	if chatID == 0 {
		return nil, errors.New("notify: telegram chat id is required")
	}
	return &KitchenNotifier{bot: bot, chatID: chatID, loc: loc}, nil
}

// OrderConfirmed sends the kitchen ticket. The Bot API has no context support,
// so ctx is only checked before sending.
func (n *KitchenNotifier) OrderConfirmed(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, Ticket(order, n.loc))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("notify: telegram ticket for %s: %w", order.OrderNumber, err)
	}
	return nil
}

// Ticket renders the plain-text kitchen ticket.
func Ticket(order domain.Order, loc *time.Location) string {
	lines := []string{
		fmt.Sprintf("NEW ORDER %s (%s)", order.OrderNumber, strings.ToUpper(string(order.OrderType))),
		fmt.Sprintf("%s  %s", order.Customer.Name, order.Customer.Phone),
	}
	if line := fulfilmentLine(order, loc); line != "" {
		lines = append(lines, line)
	}
	if order.CloverOrderID != nil {
		lines = append(lines, "Clover: "+*order.CloverOrderID)
	}
	lines = append(lines, "")
	lines = append(lines, summaryLines(order)...)
	if order.SpecialInstructions != "" {
		lines = append(lines, "", "Notes: "+order.SpecialInstructions)
	}
	return strings.Join(lines, "\n")
}
