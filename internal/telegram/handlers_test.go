package telegram

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/pipeline"
)

func TestParsePayee(t *testing.T) {
	name, addr := parsePayee("Bob 0x00000000000000000000000000000000000000C3")
	assert.Equal(t, "Bob", name)
	assert.Equal(t, "0x00000000000000000000000000000000000000C3", addr)

	name, addr = parsePayee("Maria Lopez")
	assert.Equal(t, "Maria Lopez", name)
	assert.Empty(t, addr)

	name, addr = parsePayee("x")
	assert.Empty(t, name)
	assert.Empty(t, addr)
}

func TestNewCode(t *testing.T) {
	a, b := newCode(), newCode()
	assert.Len(t, a, 8)
	assert.Equal(t, intent.NormalizeCode(a), a)
	assert.NotEqual(t, a, b)
}

func TestStatusText(t *testing.T) {
	it := &intent.PaymentIntent{
		Code:             "HACK001",
		Status:           intent.StatusError,
		AmountMinorUnits: 3550,
		PayeeName:        "Bob <3",
		LastError:        &intent.Failure{Kind: apperrors.KindNoValidAccess},
	}
	text := statusText(it)
	assert.Contains(t, text, "<b>HACK001</b> ⚠️")
	assert.Contains(t, text, "Amount: <b>S/ 35.50</b>")
	assert.Contains(t, text, "To: Bob &lt;3")
	assert.Contains(t, text, "Last error: <code>NO_VALID_ACCESS</code>")
	assert.NotContains(t, text, "Tx:")
}

func TestStatusKeyboard(t *testing.T) {
	kb := StatusKeyboard(&intent.PaymentIntent{Code: "C1"})
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Len(t, kb.InlineKeyboard[0], 1)
	assert.Equal(t, "status:C1", kb.InlineKeyboard[0][0].CallbackData)

	kb = StatusKeyboard(&intent.PaymentIntent{Code: "C1", ContentLocator: "https://gw/ipfs/bafk"})
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "https://gw/ipfs/bafk", kb.InlineKeyboard[0][1].URL)
}

func TestSenderName(t *testing.T) {
	assert.Equal(t, "", senderName(nil))
	assert.Equal(t, "Ana", senderName(&models.User{FirstName: "Ana", Username: "ana_p"}))
	assert.Equal(t, "ana_p", senderName(&models.User{Username: "ana_p"}))
}

func TestStateManagerReturnsCopies(t *testing.T) {
	sm := NewStateManager()
	sm.Set(1, StateWaitAmount, nil)

	s := sm.Get(1)
	require.NotNil(t, s)
	s.Data["amount"] = "10.00"
	assert.Empty(t, sm.Get(1).Data["amount"])

	sm.Set(1, StateWaitPayee, s.Data)
	assert.Equal(t, "10.00", sm.Get(1).Data["amount"])

	sm.Clear(1)
	assert.Nil(t, sm.Get(1))
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p.Text)
	return &models.Message{}, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p.Text)
	return &models.Message{}, nil
}

type fakePipeline struct {
	out     pipeline.Outcome
	err     error
	inbound []pipeline.Inbound
}

func (f *fakePipeline) HandleInbound(_ context.Context, in pipeline.Inbound) (pipeline.Outcome, error) {
	f.inbound = append(f.inbound, in)
	return f.out, f.err
}

func (f *fakePipeline) CreateInvite(context.Context, pipeline.Invite) (*intent.PaymentIntent, error) {
	return nil, nil
}

func newTestBot(p Pipeline) (*Bot, *fakeMessenger) {
	m := &fakeMessenger{}
	return &Bot{
		api:      m,
		pipeline: p,
		states:   NewStateManager(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, m
}

func chatMessage(text string) *models.Message {
	return &models.Message{
		Text: text,
		Chat: models.Chat{ID: 42},
		From: &models.User{ID: 7},
	}
}

func TestPayCommandIgnoresNonCommands(t *testing.T) {
	for _, text := range []string{"HELLO", "PAY abc X1", "PAY -5 X1"} {
		p := &fakePipeline{}
		b, m := newTestBot(p)

		b.handlePayCommand(context.Background(), chatMessage(text), text)
		assert.Empty(t, m.sent, text)
		assert.Empty(t, p.inbound, text)
	}
}

func TestPayCommandAcknowledgesWithoutFailureDetails(t *testing.T) {
	cases := map[string]*fakePipeline{
		"invalid transition": {err: apperrors.New(apperrors.KindInvalidTransition, "cannot move X1 from INVITE_SENT")},
		"business failure": {out: pipeline.Outcome{Code: "X1", Status: intent.StatusError,
			Failure: &intent.Failure{Kind: apperrors.KindNoValidAccess}}},
		"success": {out: pipeline.Outcome{Code: "X1", Status: intent.StatusSentOnChain}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			b, m := newTestBot(p)

			b.handlePayCommand(context.Background(), chatMessage("pay 35,50 x1"), "pay 35,50 x1")

			require.Len(t, p.inbound, 1)
			assert.Equal(t, "tg:42", p.inbound[0].From)
			assert.Equal(t, Channel, p.inbound[0].Channel)

			require.Len(t, m.sent, 1, "only the receipt acknowledgment is sent")
			assert.Contains(t, m.sent[0], "Received <b>X1</b>")
			assert.NotContains(t, m.sent[0], "❌")
			assert.NotContains(t, m.sent[0], "cannot")
		})
	}
}
