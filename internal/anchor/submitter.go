// Package anchor submits receipt anchoring transactions to the ledger.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/suspectuso/pay-anchor/internal/eligibility"
	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

const (
	// DefaultGasLimit is the budget used when estimation itself fails.
	DefaultGasLimit uint64 = 330_000
	// DefaultConfirmTimeout bounds the confirmation wait.
	DefaultConfirmTimeout = 2 * time.Minute
)

// ErrReverted marks a transaction that was mined with a failed status.
// Only then is it safe to submit the anchor again.
var ErrReverted = errors.New("transaction reverted")

// Request is one anchoring call.
type Request struct {
	ContentID   string
	IntentID    string
	NamespaceID string
	Beneficiary string
}

// Confirmation is the ledger's inclusion record for a submitted transaction.
type Confirmation struct {
	BlockNumber uint64
	GasUsed     uint64
}

// Result is returned once the anchor transaction is confirmed.
type Result struct {
	TxRef       string
	BlockNumber uint64
	GasLimit    uint64
}

// Contract is the anchoring contract surface.
type Contract interface {
	Paused(ctx context.Context) (bool, error)
	IsRelayer(ctx context.Context, address string) (bool, error)
	RegistryAddress(ctx context.Context) (string, error)
	Simulate(ctx context.Context, req Request) error
	EstimateCost(ctx context.Context, req Request) (uint64, error)
	Submit(ctx context.Context, req Request, gasLimit uint64) (string, error)
	AwaitConfirmation(ctx context.Context, txRef string) (Confirmation, error)
}

// Gate is the eligibility check applied to the beneficiary.
type Gate interface {
	Check(ctx context.Context, registryAddress, beneficiary string) (eligibility.Result, error)
}

// Reverter is implemented by errors that carry a decoded revert reason.
type Reverter interface {
	RevertReason() string
}

// Submitter runs the ordered preflight checks, submits, and waits for confirmation.
type Submitter struct {
	contract       Contract
	gate           Gate
	relayer        string
	confirmTimeout time.Duration
	log            *slog.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithConfirmTimeout sets the bound on the confirmation wait.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// NewSubmitter creates a Submitter acting as relayer.
func NewSubmitter(contract Contract, gate Gate, relayer string, log *slog.Logger, opts ...Option) *Submitter {
	s := &Submitter{
		contract:       contract,
		gate:           gate,
		relayer:        relayer,
		confirmTimeout: DefaultConfirmTimeout,
		log:            log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Anchor binds the content identifier and intent on the ledger.
// Read failures on the pause, relayer and registry lookups are logged and skipped;
// a definitive negative aborts before any later step runs.
func (s *Submitter) Anchor(ctx context.Context, req Request) (Result, error) {
	log := s.log.With("intent_id", req.IntentID, "cid", req.ContentID, "beneficiary", req.Beneficiary)

	paused, err := s.contract.Paused(ctx)
	switch {
	case err != nil:
		log.Warn("read paused flag", "error", err)
	case paused:
		return Result{}, apperrors.WithMetadata(apperrors.KindServicePaused, "anchoring contract is paused",
			map[string]string{apperrors.MetaReason: "PAUSED"})
	}

	isRelayer, err := s.contract.IsRelayer(ctx, s.relayer)
	switch {
	case err != nil:
		log.Warn("read relayer flag", "relayer", s.relayer, "error", err)
	case !isRelayer:
		return Result{}, apperrors.WithMetadata(apperrors.KindUnauthorizedRelayer, "sender is not an authorized relayer",
			map[string]string{apperrors.MetaReason: "NOT_RELAYER"})
	}

	registry, err := s.contract.RegistryAddress(ctx)
	if err != nil {
		log.Warn("read registry address", "error", err)
	} else if _, err := s.gate.Check(ctx, registry, req.Beneficiary); err != nil {
		if apperrors.KindOf(err) == apperrors.KindNoValidAccess {
			return Result{}, err
		}
		log.Warn("eligibility check unavailable", "registry", registry, "error", err)
	}

	if err := s.contract.Simulate(ctx, req); err != nil {
		var rv Reverter
		if !errors.As(err, &rv) {
			// no prediction either way, so nothing is submitted
			log.Error("preflight simulation unavailable", "error", err)
			return Result{}, apperrors.WrapWithMetadata(apperrors.KindSubmissionFailed, "preflight simulation unavailable",
				map[string]string{apperrors.MetaReason: "PREFLIGHT_UNAVAILABLE"}, err)
		}
		log.Error("preflight reverted", "reason", rv.RevertReason())
		return Result{}, apperrors.WrapWithMetadata(apperrors.KindPreflightRejected, "preflight simulation reverted",
			map[string]string{apperrors.MetaReason: rv.RevertReason()}, err)
	}

	gasLimit := DefaultGasLimit
	if est, err := s.contract.EstimateCost(ctx, req); err != nil {
		log.Warn("estimate gas failed, using default limit", "gas_limit", gasLimit, "error", err)
	} else {
		gasLimit = est + est/10
		log.Info("gas estimated", "estimate", est, "gas_limit", gasLimit)
	}

	txRef, err := s.contract.Submit(ctx, req, gasLimit)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindSubmissionFailed, "submit anchor transaction", err)
	}
	log.Info("anchor submitted", "tx", txRef, "gas_limit", gasLimit)

	res, err := s.Confirm(ctx, txRef)
	res.GasLimit = gasLimit
	return res, err
}

// Confirm waits, bounded by the confirm timeout, for txRef to be included.
func (s *Submitter) Confirm(ctx context.Context, txRef string) (Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	meta := map[string]string{apperrors.MetaTxRef: txRef}
	conf, err := s.contract.AwaitConfirmation(waitCtx, txRef)
	if err != nil {
		if errors.Is(err, ErrReverted) {
			meta[apperrors.MetaReason] = "REVERTED"
			return Result{TxRef: txRef}, apperrors.WrapWithMetadata(apperrors.KindSubmissionFailed, "anchor transaction reverted", meta, err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{TxRef: txRef}, apperrors.WrapWithMetadata(apperrors.KindConfirmationTimeout,
				"confirmation wait expired after "+s.confirmTimeout.String(), meta, err)
		}
		return Result{TxRef: txRef}, apperrors.WrapWithMetadata(apperrors.KindSubmissionFailed, "await confirmation", meta, err)
	}

	s.log.Info("anchor confirmed",
		"tx", txRef,
		"block", conf.BlockNumber,
		"gas_used", strconv.FormatUint(conf.GasUsed, 10),
	)
	return Result{TxRef: txRef, BlockNumber: conf.BlockNumber}, nil
}
