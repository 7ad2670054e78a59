// Package telegram delivers liquidation alerts and service health messages
// through the Telegram Bot API, retrying failed sends with linear backoff.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/rwaledger/internal/models"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client sends Telegram notifications.
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a client for botToken posting to chatID.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send posts a summary of at-risk loans.
func (c *Client) Send(alerts []models.LiquidationAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.send(formatAlerts(alerts))
}

// SendError reports that monitoring has been failing.
func (c *Client) SendError(err error, consecutive int) error {
	msg := fmt.Sprintf("⚠️ *Ledger monitor failing*\n\n%d consecutive failed cycles\nLast error: `%s`",
		consecutive, escapeCode(err.Error()))
	return c.send(msg)
}

// SendRecovery reports that monitoring is healthy again.
func (c *Client) SendRecovery(failedCycles int) error {
	return c.send(fmt.Sprintf("✅ *Ledger monitor recovered* after %d failed cycles", failedCycles))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatAlerts(alerts []models.LiquidationAlert) string {
	var b strings.Builder
	b.WriteString("🚨 *Loans at Risk*\n\n")
	fmt.Fprintf(&b, "📅 Detected: %s\n\n", escapeMarkdownV2(alerts[0].DetectedAt.UTC().Format("2006-01-02 15:04:05")))

	for i, a := range alerts {
		emoji := "📉"
		headline := fmt.Sprintf("LTV %d%% ≥ %d%%", a.LTV, a.Threshold)
		if a.Reason == models.AlertOverdue {
			emoji = "⏰"
			headline = fmt.Sprintf("%d days overdue", a.DaysOverdue)
		}

		fmt.Fprintf(&b, "%d\\. %s *%s*\n", i+1, emoji, escapeMarkdownV2(headline))
		fmt.Fprintf(&b, "   Loan: `%s`\n", escapeCode(a.LoanID))
		fmt.Fprintf(&b, "   Borrower: %s\n", escapeMarkdownV2(a.Borrower))
		fmt.Fprintf(&b, "   Owed %s / collateral %s\n",
			escapeMarkdownV2(formatAmount(a.TotalOwed)), escapeMarkdownV2(formatAmount(a.CollateralValue)))
		if a.PenaltyAmount > 0 {
			fmt.Fprintf(&b, "   Penalty: %s\n", escapeMarkdownV2(formatAmount(a.PenaltyAmount)))
		}
		if a.LiquidationID != "" {
			fmt.Fprintf(&b, "   Liquidation: `%s`\n", escapeCode(a.LiquidationID))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters MarkdownV2 reserves.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text inside a code span, where only ` and \ are special.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// formatAmount groups digits in thousands: 1234567 -> 1,234,567.
func formatAmount(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
