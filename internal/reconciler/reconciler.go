// Package reconciler advances anchored intents to SUCCESS and notifies payers.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/metrics"
	"github.com/suspectuso/pay-anchor/internal/notifier"
)

// Mode selects how a SENT_ON_CHAIN intent is judged confirmed.
type Mode string

const (
	// ModeDemo confirms every SENT_ON_CHAIN intent.
	ModeDemo Mode = "demo"
	// ModeOnchain requires the anchoring event in a successful transaction.
	ModeOnchain Mode = "onchain"

	modeManual = "manual"
)

// Verifier checks the ledger for the anchoring event of an intent.
type Verifier interface {
	VerifyAnchored(ctx context.Context, txRef, intentID string) (bool, error)
}

// Notifier delivers the confirmation message.
type Notifier interface {
	Notify(ctx context.Context, handle, text string)
}

// Reconciler scans SENT_ON_CHAIN intents on an interval.
type Reconciler struct {
	store    intent.Store
	notifier Notifier
	verifier Verifier
	mode     Mode
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithVerifier switches the reconciler to on-chain verification.
func WithVerifier(v Verifier) Option {
	return func(r *Reconciler) {
		r.verifier = v
		r.mode = ModeOnchain
	}
}

// WithMetrics records confirmations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler in demo mode unless WithVerifier is given.
func New(store intent.Store, n Notifier, log *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		notifier: n,
		mode:     ModeDemo,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode reports the confirmation mode in use.
func (r *Reconciler) Mode() Mode { return r.mode }

// Run calls Pass every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.log.Info("reconciler started", "mode", r.mode, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Pass(ctx); err != nil {
				r.log.Error("reconcile pass", "error", err)
			}
		}
	}
}

// Pass confirms every SENT_ON_CHAIN intent that passes the mode's check and
// returns how many moved to SUCCESS. A pass that would overlap a running one
// returns immediately.
func (r *Reconciler) Pass(ctx context.Context) (int, error) {
	if !r.running.TryLock() {
		r.log.Warn("previous reconcile pass still running, skipping")
		return 0, nil
	}
	defer r.running.Unlock()

	return r.sweep(ctx, string(r.mode), r.mode == ModeOnchain)
}

// ForceConfirm moves every SENT_ON_CHAIN intent to SUCCESS without ledger checks.
func (r *Reconciler) ForceConfirm(ctx context.Context) (int, error) {
	r.running.Lock()
	defer r.running.Unlock()

	return r.sweep(ctx, modeManual, false)
}

func (r *Reconciler) sweep(ctx context.Context, label string, verify bool) (int, error) {
	intents, err := r.store.ListByStatus(ctx, intent.StatusSentOnChain)
	if err != nil {
		return 0, fmt.Errorf("list anchored intents: %w", err)
	}
	if len(intents) == 0 {
		return 0, nil
	}

	confirmed := 0
	for i := range intents {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.reconcile(ctx, &intents[i], verify)
		if err != nil {
			r.log.Error("reconcile intent", "code", intents[i].Code, "error", err)
			continue
		}
		if ok {
			confirmed++
		}
	}

	r.metrics.Confirmed(label, confirmed)
	r.log.Info("reconcile pass done", "mode", label, "scanned", len(intents), "confirmed", confirmed)
	return confirmed, ctx.Err()
}

// reconcile handles one intent. It reports whether the intent moved to SUCCESS.
func (r *Reconciler) reconcile(ctx context.Context, it *intent.PaymentIntent, verify bool) (bool, error) {
	log := r.log.With("code", it.Code, "tx", it.LedgerTxRef)

	if verify {
		found, err := r.verifier.VerifyAnchored(ctx, it.LedgerTxRef, it.IntentID)
		if err != nil {
			log.Debug("anchor not verifiable yet", "error", err)
			return false, nil
		}
		if !found {
			return false, r.reject(ctx, it)
		}
	}

	now := r.now()
	ok, err := r.store.CompareAndMerge(ctx, it.Code, intent.StatusSentOnChain, intent.Patch{
		Status:      intent.Ptr(intent.StatusSuccess),
		ConfirmedAt: &now,
		UpdatedAt:   now,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug("intent changed during pass, skipping")
		return false, nil
	}

	log.Info("intent confirmed")
	if r.notifier != nil {
		r.notifier.Notify(ctx, it.PayerHandle, notifier.ConfirmationText(*it))
	}
	return true, nil
}

// reject moves an intent whose transaction carries no anchoring event back to ERROR.
func (r *Reconciler) reject(ctx context.Context, it *intent.PaymentIntent) error {
	now := r.now()
	cause := apperrors.WithMetadata(apperrors.KindSubmissionFailed, "anchoring event not found in transaction",
		map[string]string{apperrors.MetaReason: "NO_ANCHOR_EVENT", apperrors.MetaTxRef: it.LedgerTxRef})

	ok, err := r.store.CompareAndMerge(ctx, it.Code, intent.StatusSentOnChain, intent.Patch{
		Status:    intent.Ptr(intent.StatusError),
		LastError: intent.FailureFrom(cause, "", now),
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	if ok {
		r.log.Warn("anchored intent rejected", "code", it.Code, "tx", it.LedgerTxRef)
	}
	return nil
}
