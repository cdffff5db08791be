// Package pipeline drives a payment intent from inbound command to ledger anchor.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/suspectuso/pay-anchor/internal/anchor"
	"github.com/suspectuso/pay-anchor/internal/contentstore"
	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/metrics"
	"github.com/suspectuso/pay-anchor/internal/receipt"
	"github.com/suspectuso/pay-anchor/internal/storage"
)

// DefaultNamespace is the DID anchored alongside each receipt.
const DefaultNamespace = "did:web:lighthouse.storage"

// ContentStore persists receipts.
type ContentStore interface {
	Store(ctx context.Context, r receipt.Receipt) (contentstore.Stored, error)
}

// Anchorer binds content identifiers to intents on the ledger.
type Anchorer interface {
	Anchor(ctx context.Context, req anchor.Request) (anchor.Result, error)
	Confirm(ctx context.Context, txRef string) (anchor.Result, error)
}

// Notifier delivers text to a messaging handle. Failures are the notifier's to log.
type Notifier interface {
	Notify(ctx context.Context, handle, text string)
}

// BeneficiaryFunc maps an intent's beneficiary candidate to the address anchored for.
type BeneficiaryFunc func(candidate string) string

// Config tunes the pipeline.
type Config struct {
	NamespaceID string
	Channel     string
	// ReprocessAnchored disables the guard that skips intents already on chain.
	ReprocessAnchored bool
}

// Inbound is one message received from the messaging channel.
type Inbound struct {
	From    string
	Text    string
	Channel string
	// Reprocess forces a full run even for anchored intents.
	Reprocess bool
}

// Outcome describes what an inbound command did to its intent.
type Outcome struct {
	Code    string
	Status  intent.Status
	Skipped bool
	TxRef   string
	Failure *intent.Failure
}

// Service is the intent state machine.
type Service struct {
	store       intent.Store
	content     ContentStore
	anchorer    Anchorer
	beneficiary BeneficiaryFunc
	notifier    Notifier
	cfg         Config
	locks       *keyedMutex
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records pipeline counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the channel used for invitations.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the state machine.
func New(store intent.Store, content ContentStore, anchorer Anchorer, beneficiary BeneficiaryFunc, cfg Config, log *slog.Logger, opts ...Option) *Service {
	if cfg.NamespaceID == "" {
		cfg.NamespaceID = DefaultNamespace
	}
	if cfg.Channel == "" {
		cfg.Channel = receipt.DefaultChannel
	}
	if beneficiary == nil {
		beneficiary = func(c string) string { return c }
	}
	s := &Service{
		store:       store,
		content:     content,
		anchorer:    anchorer,
		beneficiary: beneficiary,
		cfg:         cfg,
		locks:       newKeyedMutex(),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleInbound parses an inbound message and runs the pipeline for its intent.
// Text that is not a pay command returns intent.ErrNotACommand and a malformed
// amount a validation error; neither touches state. Business failures are
// persisted on the intent and reported in the Outcome, not as an error.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (Outcome, error) {
	cmd, err := intent.ParseCommand(in.Text)
	if err != nil {
		if errors.Is(err, intent.ErrNotACommand) {
			s.metrics.Inbound("ignored")
		} else {
			s.metrics.Inbound("invalid")
		}
		return Outcome{}, err
	}

	code := intent.NormalizeCode(cmd.Code)
	intentID := intent.ID(code)

	unlock := s.locks.Lock(intentID)
	defer unlock()

	prior, err := s.load(ctx, code)
	if err != nil {
		return Outcome{Code: code}, err
	}

	force := in.Reprocess || s.cfg.ReprocessAnchored
	if prior.Status.Anchored() && !force {
		s.log.Info("intent already anchored, skipping", "code", code, "status", prior.Status, "tx", prior.LedgerTxRef)
		s.metrics.Inbound("skipped")
		return Outcome{Code: code, Status: prior.Status, Skipped: true, TxRef: prior.LedgerTxRef}, nil
	}
	if !intent.CanTransition(prior.Status, intent.StatusPending) && !prior.Status.Anchored() {
		return Outcome{Code: code, Status: prior.Status}, apperrors.New(apperrors.KindInvalidTransition,
			fmt.Sprintf("cannot move %s from %s to %s", code, prior.Status, intent.StatusPending))
	}
	s.metrics.Inbound("processed")

	channel := in.Channel
	if channel == "" {
		channel = s.cfg.Channel
	}
	attempt := s.attemptID()
	r := &run{
		svc:     s,
		code:    code,
		cmd:     cmd,
		channel: channel,
		attempt: attempt,
		log:     s.log.With("code", code, "intent_id", intentID, "attempt", attempt),
	}

	out, err := r.execute(ctx, prior, in.From)
	if err != nil {
		return out, err
	}
	kind := ""
	if out.Failure != nil {
		kind = string(out.Failure.Kind)
	}
	s.metrics.Outcome(string(out.Status), kind)
	return out, nil
}

// load returns the stored intent or a blank one for an unknown code.
func (s *Service) load(ctx context.Context, code string) (*intent.PaymentIntent, error) {
	it, err := s.store.Get(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return &intent.PaymentIntent{Code: code}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "load intent", err)
	}
	return it, nil
}

func (s *Service) attemptID() string {
	id, err := ulid.New(ulid.Timestamp(s.now()), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}

// run is one pipeline attempt for one intent.
type run struct {
	svc     *Service
	code    string
	cmd     intent.Command
	channel string
	attempt string
	log     *slog.Logger
}

func (r *run) execute(ctx context.Context, prior *intent.PaymentIntent, from string) (Outcome, error) {
	s := r.svc
	recheck := awaitingConfirmation(prior)

	pending := r.pendingPatch(prior, from)
	if err := s.store.Merge(ctx, r.code, pending); err != nil {
		return Outcome{Code: r.code, Status: prior.Status}, apperrors.Wrap(apperrors.KindInternal, "persist pending", err)
	}
	it := *prior
	it.Code = r.code
	it.Apply(pending)
	r.log.Info("intent pending", "amount_minor", r.cmd.AmountMinorUnits, "recheck", recheck)

	if recheck {
		out, resubmit, err := r.recheck(ctx, &it)
		if !resubmit {
			return out, err
		}
	}

	rcpt := receipt.Build(it, r.cmd, r.channel)
	stored, err := s.content.Store(ctx, rcpt)
	if err != nil {
		return r.fail(ctx, err, intent.Patch{})
	}
	r.log.Info("receipt stored", "cid", stored.ContentID, "locator", stored.Locator)

	started := s.now()
	res, err := s.anchorer.Anchor(ctx, anchor.Request{
		ContentID:   stored.ContentID,
		IntentID:    it.IntentID,
		NamespaceID: s.cfg.NamespaceID,
		Beneficiary: s.beneficiary(it.BeneficiaryAddress),
	})
	s.metrics.AnchorDuration(s.now().Sub(started).Seconds())

	content := intent.Patch{
		ContentID:       intent.Ptr(stored.ContentID),
		ContentLocator:  intent.Ptr(stored.Locator),
		ContentProvider: intent.Ptr(stored.Provider),
		NamespaceID:     intent.Ptr(s.cfg.NamespaceID),
	}
	if err != nil {
		// once a transaction is broadcast its outcome is unknown, not failed
		if res.TxRef != "" {
			content.LedgerTxRef = intent.Ptr(res.TxRef)
			return r.fail(ctx, err, content)
		}
		return r.fail(ctx, err, intent.Patch{})
	}

	content.LedgerTxRef = intent.Ptr(res.TxRef)
	return r.advance(ctx, content)
}

// recheck re-awaits a transaction from an earlier attempt instead of submitting
// a second one. It asks for a resubmission only when that transaction reverted.
func (r *run) recheck(ctx context.Context, it *intent.PaymentIntent) (Outcome, bool, error) {
	r.log.Info("re-awaiting previous submission", "tx", it.LedgerTxRef)
	res, err := r.svc.anchorer.Confirm(ctx, it.LedgerTxRef)
	if errors.Is(err, anchor.ErrReverted) {
		r.log.Warn("previous submission reverted, anchoring again", "tx", it.LedgerTxRef)
		return Outcome{}, true, nil
	}
	if err != nil {
		out, err := r.fail(ctx, err, intent.Patch{})
		return out, false, err
	}
	out, err := r.advance(ctx, intent.Patch{LedgerTxRef: intent.Ptr(res.TxRef)})
	return out, false, err
}

func (r *run) advance(ctx context.Context, p intent.Patch) (Outcome, error) {
	p.Status = intent.Ptr(intent.StatusSentOnChain)
	p.ClearLastError = true
	p.UpdatedAt = r.svc.now()
	if err := r.svc.store.Merge(context.WithoutCancel(ctx), r.code, p); err != nil {
		return Outcome{Code: r.code, Status: intent.StatusPending}, apperrors.Wrap(apperrors.KindInternal, "persist anchored intent", err)
	}
	r.log.Info("intent sent on chain", "tx", *p.LedgerTxRef)
	return Outcome{Code: r.code, Status: intent.StatusSentOnChain, TxRef: *p.LedgerTxRef}, nil
}

// fail records cause on the intent and moves it to ERROR. extra carries fields
// that must survive the failure, such as a submitted transaction reference.
// The write outlives ctx so a cancelled attempt still leaves its record.
func (r *run) fail(ctx context.Context, cause error, extra intent.Patch) (Outcome, error) {
	now := r.svc.now()
	f := intent.FailureFrom(cause, r.attempt, now)

	extra.Status = intent.Ptr(intent.StatusError)
	extra.LastError = f
	extra.UpdatedAt = now
	if err := r.svc.store.Merge(context.WithoutCancel(ctx), r.code, extra); err != nil {
		r.log.Error("persist failure", "kind", f.Kind, "cause", cause, "error", err)
		return Outcome{Code: r.code, Status: intent.StatusPending, Failure: f}, apperrors.Wrap(apperrors.KindInternal, "persist failure", err)
	}

	r.log.Warn("intent failed", "kind", f.Kind, "reason", f.Reason, "retryable", f.Kind.Retryable(), "error", cause)
	out := Outcome{Code: r.code, Status: intent.StatusError, Failure: f}
	if extra.LedgerTxRef != nil {
		out.TxRef = *extra.LedgerTxRef
	}
	return out, nil
}

func (r *run) pendingPatch(prior *intent.PaymentIntent, from string) intent.Patch {
	p := intent.Patch{
		IntentID:         intent.Ptr(intent.ID(r.code)),
		AmountMinorUnits: intent.Ptr(r.cmd.AmountMinorUnits),
		Status:           intent.Ptr(intent.StatusPending),
		UpdatedAt:        r.svc.now(),
	}
	if from != "" {
		p.PayerHandle = intent.Ptr(from)
		p.PayerHandleHash = intent.Ptr(intent.HandleHash(from))
		p.PayerMasked = intent.Ptr(intent.Mask(from))
	}
	if prior.PayeeHandleHash == "" && prior.PayeeHandle != "" {
		p.PayeeHandleHash = intent.Ptr(intent.HandleHash(prior.PayeeHandle))
	}
	return p
}

// awaitingConfirmation reports whether the last attempt failed on the outcome of
// the stored transaction rather than before broadcasting it.
func awaitingConfirmation(it *intent.PaymentIntent) bool {
	if it.Status != intent.StatusError || it.LastError == nil || it.LedgerTxRef == "" {
		return false
	}
	switch it.LastError.Kind {
	case apperrors.KindConfirmationTimeout, apperrors.KindSubmissionFailed:
		return it.LastError.TxRef == it.LedgerTxRef
	default:
		return false
	}
}
