// Package notifier delivers outbound messages to payers over the messaging channel.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/metrics"
)

// ChatHandlePrefix marks handles that address a chat directly.
const ChatHandlePrefix = "tg:"

// Sender delivers text to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Notifier routes messages to the payer's chat, or to the inbox chat when the
// handle is not a chat address.
type Notifier struct {
	sender  Sender
	inbox   int64
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a Notifier. A nil sender only logs.
func New(sender Sender, inbox int64, m *metrics.Metrics, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		inbox:   inbox,
		metrics: m,
		log:     log,
	}
}

// Notify sends text to handle. Delivery failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, handle, text string) {
	chatID, ok := ChatID(handle)
	if !ok {
		chatID = n.inbox
	}
	if n.sender == nil || chatID == 0 {
		n.log.Info("notification not delivered: no channel", "handle", intent.Mask(handle), "text", text)
		n.metrics.Notification("dropped")
		return
	}

	if err := n.sender.Send(ctx, chatID, text); err != nil {
		n.log.Error("send notification", "chat_id", chatID, "error", err)
		n.metrics.Notification("failed")
		return
	}
	n.metrics.Notification("sent")
}

// ChatHandle renders a chat id as a messaging handle.
func ChatHandle(chatID int64) string {
	return ChatHandlePrefix + strconv.FormatInt(chatID, 10)
}

// ChatID extracts the chat id from a handle made by ChatHandle.
func ChatID(handle string) (int64, bool) {
	raw, ok := strings.CutPrefix(handle, ChatHandlePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ConfirmationText is sent to the payer once an intent reaches SUCCESS.
func ConfirmationText(it intent.PaymentIntent) string {
	tx := it.LedgerTxRef
	if tx == "" {
		tx = "MOCK"
	}
	locator := it.ContentLocator
	if locator == "" {
		locator = "no-cid"
	}
	return fmt.Sprintf("Payment received ✅ Tx: %s. Receipt: %s", tx, locator)
}
