// Package telegram is the messaging channel: pay commands in, notifications out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/notifier"
	"github.com/suspectuso/pay-anchor/internal/pipeline"
	"github.com/suspectuso/pay-anchor/internal/storage"
)

// Channel tags receipts built from Telegram messages.
const Channel = "telegram"

var addrRegex = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// Pipeline is the intent state machine as seen by the bot.
type Pipeline interface {
	HandleInbound(ctx context.Context, in pipeline.Inbound) (pipeline.Outcome, error)
	CreateInvite(ctx context.Context, inv pipeline.Invite) (*intent.PaymentIntent, error)
}

// IntentReader looks up intents for /status.
type IntentReader interface {
	Get(ctx context.Context, code string) (*intent.PaymentIntent, error)
}

// messenger is the part of the Bot API the handlers send through.
type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot      *bot.Bot
	api      messenger
	pipeline Pipeline
	intents  IntentReader
	states   *StateManager
	log      *slog.Logger
}

// New creates a new telegram bot
func New(token string, p Pipeline, intents IntentReader, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		pipeline: p,
		intents:  intents,
		states:   NewStateManager(),
		log:      log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	b.api = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/invite", bot.MatchTypePrefix, b.inviteHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.statusHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText(senderName(update.Message.From)), MainKeyboard())
}

func (b *Bot) inviteHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.beginInvite(ctx, update.Message.From.ID, update.Message.Chat.ID)
}

func (b *Bot) statusHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	fields := strings.Fields(update.Message.Text)
	if len(fields) < 2 {
		b.sendMessage(ctx, update.Message.Chat.ID, "Usage: <code>/status CODE</code>", nil)
		return
	}
	b.showStatus(ctx, update.Message.Chat.ID, fields[1])
}

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}

	msg := update.Message
	text := strings.TrimSpace(msg.Text)

	if state := b.states.Get(msg.From.ID); state != nil {
		switch state.State {
		case StateWaitAmount:
			b.handleWaitAmount(ctx, msg, text, state)
		case StateWaitPayee:
			b.handleWaitPayee(ctx, msg, text, state)
		}
		return
	}

	b.handlePayCommand(ctx, msg, text)
}

// handlePayCommand acknowledges a pay command and feeds it to the pipeline.
// Other text, malformed amounts and failed runs get no reply; outcomes reach
// the sender only as the later confirmation notification.
func (b *Bot) handlePayCommand(ctx context.Context, msg *models.Message, text string) {
	cmd, err := intent.ParseCommand(text)
	switch {
	case errors.Is(err, intent.ErrNotACommand):
		return
	case err != nil:
		b.log.Debug("malformed pay command ignored", "chat_id", msg.Chat.ID, "error", err)
		return
	}

	code := intent.NormalizeCode(cmd.Code)
	b.sendMessage(ctx, msg.Chat.ID,
		fmt.Sprintf("📨 Received <b>%s</b>. You will be notified once the payment is confirmed.", html.EscapeString(code)),
		nil,
	)

	out, err := b.pipeline.HandleInbound(ctx, pipeline.Inbound{
		From:    notifier.ChatHandle(msg.Chat.ID),
		Text:    text,
		Channel: Channel,
	})
	if err != nil {
		b.log.Warn("handle inbound", "chat_id", msg.Chat.ID, "code", code, "kind", apperrors.KindOf(err), "error", err)
		return
	}
	b.log.Info("pay command processed", "chat_id", msg.Chat.ID, "code", out.Code, "status", out.Status, "skipped", out.Skipped)
}

func (b *Bot) beginInvite(ctx context.Context, userID, chatID int64) {
	b.states.Set(userID, StateWaitAmount, nil)
	b.sendMessage(ctx, chatID, "💰 How much will you pay? Example: <code>35.50</code>", CancelKeyboard())
}

func (b *Bot) handleWaitAmount(ctx context.Context, msg *models.Message, text string, state *UserState) {
	minor, err := intent.ParseAmount(text)
	if err != nil || minor <= 0 {
		b.sendMessage(ctx, msg.Chat.ID,
			"❌ Send a positive amount. For example: <code>35.50</code> or <code>10</code>",
			CancelKeyboard(),
		)
		return
	}

	state.Data["amount"] = intent.FormatAmount(minor)
	b.states.Set(msg.From.ID, StateWaitPayee, state.Data)

	b.sendMessage(ctx, msg.Chat.ID,
		"👤 Who receives it? Send a name, optionally followed by their wallet address <code>0x…</code>",
		CancelKeyboard(),
	)
}

func (b *Bot) handleWaitPayee(ctx context.Context, msg *models.Message, text string, state *UserState) {
	name, addr := parsePayee(text)
	if name == "" && addr == "" {
		b.sendMessage(ctx, msg.Chat.ID, "Name is too short, try again.", CancelKeyboard())
		return
	}
	b.states.Clear(msg.From.ID)

	it, err := b.pipeline.CreateInvite(ctx, pipeline.Invite{
		PayerHandle:        notifier.ChatHandle(msg.Chat.ID),
		AmountText:         state.Data["amount"],
		Code:               newCode(),
		PayerName:          senderName(msg.From),
		PayeeName:          name,
		BeneficiaryAddress: addr,
	})
	if err != nil {
		b.log.Error("create invite", "chat_id", msg.Chat.ID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Could not create the invite.", MainKeyboard())
		return
	}

	b.log.Info("invite created", "chat_id", msg.Chat.ID, "code", it.Code)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	chatID := callbackChat(cb)
	if chatID == 0 {
		return
	}

	switch {
	case data == "back":
		b.states.Clear(userID)
		b.editMessage(ctx, cb.Message, welcomeText(senderName(&cb.From)), MainKeyboard())
	case data == "invite":
		b.beginInvite(ctx, userID, chatID)
	case data == "help":
		b.editMessage(ctx, cb.Message, helpText, MainKeyboard())
	case strings.HasPrefix(data, "status:"):
		b.showStatus(ctx, chatID, strings.TrimPrefix(data, "status:"))
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", userID)
	}
}

func (b *Bot) showStatus(ctx context.Context, chatID int64, code string) {
	code = intent.NormalizeCode(code)
	it, err := b.intents.Get(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendMessage(ctx, chatID, fmt.Sprintf("No payment with code <b>%s</b>.", html.EscapeString(code)), nil)
		return
	}
	if err != nil {
		b.log.Error("load intent", "code", code, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not load the payment.", nil)
		return
	}
	b.sendMessage(ctx, chatID, statusText(it), StatusKeyboard(it))
}

// --- Helpers ---

const helpText = "<b>How it works</b>\n\n" +
	"1. Create an invite with /invite.\n" +
	"2. Reply with <code>PAY &lt;amount&gt; &lt;code&gt;</code>.\n" +
	"3. The receipt is stored and anchored on chain; you get a message when it is confirmed.\n\n" +
	"Check any payment with <code>/status CODE</code>."

func welcomeText(name string) string {
	return fmt.Sprintf(
		"%s, welcome to <b>PayAnchor</b>! 🧾\n\n"+
			"Every payment you confirm gets a receipt anchored on a public ledger.\n\n"+
			"Pick an action 👇",
		html.EscapeString(name),
	)
}

func statusText(it *intent.PaymentIntent) string {
	lines := []string{
		fmt.Sprintf("<b>%s</b> %s", html.EscapeString(it.Code), statusEmoji(it.Status)),
		"",
		fmt.Sprintf("Status: <b>%s</b>", it.Status),
		fmt.Sprintf("Amount: <b>S/ %s</b>", intent.FormatAmount(it.AmountMinorUnits)),
	}
	if it.PayeeName != "" {
		lines = append(lines, "To: "+html.EscapeString(it.PayeeName))
	}
	if it.ContentID != "" {
		lines = append(lines, fmt.Sprintf("Receipt: <code>%s</code>", html.EscapeString(it.ContentID)))
	}
	if it.LedgerTxRef != "" {
		lines = append(lines, fmt.Sprintf("Tx: <code>%s</code>", html.EscapeString(it.LedgerTxRef)))
	}
	if it.Status == intent.StatusError && it.LastError != nil {
		lines = append(lines, fmt.Sprintf("Last error: <code>%s</code>", it.LastError.Kind))
	}
	return strings.Join(lines, "\n")
}

func statusEmoji(s intent.Status) string {
	switch s {
	case intent.StatusSuccess:
		return "✅"
	case intent.StatusSentOnChain:
		return "⛓"
	case intent.StatusError:
		return "⚠️"
	default:
		return "⏳"
	}
}

// parsePayee splits "Bob 0xabc…" into a display name and an optional address.
func parsePayee(text string) (name, addr string) {
	addr = addrRegex.FindString(text)
	name = strings.TrimSpace(strings.Replace(text, addr, "", 1))
	if len([]rune(name)) < 2 {
		name = ""
	}
	return name, addr
}

// newCode returns an 8 character shareable code.
func newCode() string {
	id := ulid.Make().String()
	return id[len(id)-8:]
}

func senderName(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

func callbackChat(cb *models.CallbackQuery) int64 {
	if cb.Message.Message != nil {
		return cb.Message.Message.Chat.ID
	}
	return cb.From.ID
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.api.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// Send delivers a plain notification to a chat.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
