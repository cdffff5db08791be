package anchor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/pay-anchor/internal/eligibility"
	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

type revertErr struct{ reason string }

func (e revertErr) Error() string        { return "execution reverted" }
func (e revertErr) RevertReason() string { return e.reason }

type fakeContract struct {
	paused     bool
	pausedErr  error
	relayer    bool
	relayerErr error
	registry   string
	regErr     error
	simErr     error
	estimate   uint64
	estErr     error
	submitErr  error
	awaitErr   error
	awaitBlock bool

	calls     []string
	gasLimit  uint64
	awaitedTx string
}

func (f *fakeContract) Paused(context.Context) (bool, error) {
	f.calls = append(f.calls, "paused")
	return f.paused, f.pausedErr
}

func (f *fakeContract) IsRelayer(context.Context, string) (bool, error) {
	f.calls = append(f.calls, "relayer")
	return f.relayer, f.relayerErr
}

func (f *fakeContract) RegistryAddress(context.Context) (string, error) {
	f.calls = append(f.calls, "registry")
	return f.registry, f.regErr
}

func (f *fakeContract) Simulate(context.Context, Request) error {
	f.calls = append(f.calls, "simulate")
	return f.simErr
}

func (f *fakeContract) EstimateCost(context.Context, Request) (uint64, error) {
	f.calls = append(f.calls, "estimate")
	return f.estimate, f.estErr
}

func (f *fakeContract) Submit(_ context.Context, _ Request, gasLimit uint64) (string, error) {
	f.calls = append(f.calls, "submit")
	f.gasLimit = gasLimit
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xtx", nil
}

func (f *fakeContract) AwaitConfirmation(ctx context.Context, txRef string) (Confirmation, error) {
	f.calls = append(f.calls, "await")
	f.awaitedTx = txRef
	if f.awaitBlock {
		<-ctx.Done()
		return Confirmation{}, ctx.Err()
	}
	if f.awaitErr != nil {
		return Confirmation{}, f.awaitErr
	}
	return Confirmation{BlockNumber: 42, GasUsed: 90_000}, nil
}

func (f *fakeContract) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fakeGate struct {
	err      error
	calls    int
	registry string
}

func (g *fakeGate) Check(_ context.Context, registry, _ string) (eligibility.Result, error) {
	g.calls++
	g.registry = registry
	if g.err != nil {
		return eligibility.Result{}, g.err
	}
	return eligibility.Result{HasValidAccess: true}, nil
}

func healthyContract() *fakeContract {
	return &fakeContract{relayer: true, registry: "0xlock", estimate: 100_000}
}

func newTestSubmitter(c Contract, g Gate, opts ...Option) *Submitter {
	return NewSubmitter(c, g, "0xrelayer", slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

var req = Request{ContentID: "bafy", IntentID: "0xintent", NamespaceID: "did:web:x", Beneficiary: "0xbenef"}

func TestAnchorHappyPath(t *testing.T) {
	c := healthyContract()
	g := &fakeGate{}

	res, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "0xtx", res.TxRef)
	assert.Equal(t, uint64(42), res.BlockNumber)
	assert.Equal(t, uint64(110_000), res.GasLimit)
	assert.Equal(t, uint64(110_000), c.gasLimit)
	assert.Equal(t, []string{"paused", "relayer", "registry", "simulate", "estimate", "submit", "await"}, c.calls)
	assert.Equal(t, "0xlock", g.registry)
}

func TestAnchorPausedStopsEverything(t *testing.T) {
	c := healthyContract()
	c.paused = true
	g := &fakeGate{}

	_, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	assert.Equal(t, apperrors.KindServicePaused, apperrors.KindOf(err))
	assert.Zero(t, c.count("simulate"))
	assert.Zero(t, c.count("estimate"))
	assert.Zero(t, c.count("submit"))
	assert.Zero(t, c.count("relayer"))
	assert.Zero(t, g.calls)
}

func TestAnchorUnauthorizedRelayer(t *testing.T) {
	c := healthyContract()
	c.relayer = false
	g := &fakeGate{}

	_, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	assert.Equal(t, apperrors.KindUnauthorizedRelayer, apperrors.KindOf(err))
	assert.Zero(t, g.calls)
	assert.Zero(t, c.count("simulate"))
}

func TestAnchorIneligibleBeneficiary(t *testing.T) {
	c := healthyContract()
	g := &fakeGate{err: apperrors.New(apperrors.KindNoValidAccess, "no key")}

	_, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	assert.Equal(t, apperrors.KindNoValidAccess, apperrors.KindOf(err))
	assert.Zero(t, c.count("simulate"))
	assert.Zero(t, c.count("submit"))
}

func TestAnchorProceedsPastReadFailures(t *testing.T) {
	c := healthyContract()
	c.pausedErr = errors.New("no method paused")
	c.relayerErr = errors.New("rpc timeout")
	c.regErr = errors.New("no method unlockLock")
	g := &fakeGate{}

	res, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "0xtx", res.TxRef)
	assert.Zero(t, g.calls)
}

func TestAnchorGateInternalErrorIsNotFatal(t *testing.T) {
	c := healthyContract()
	g := &fakeGate{err: apperrors.New(apperrors.KindInternal, "bind registry")}

	_, err := newTestSubmitter(c, g).Anchor(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, c.count("submit"))
}

func TestAnchorPreflightRejectedCarriesReason(t *testing.T) {
	c := healthyContract()
	c.simErr = revertErr{reason: "error: NoValidUnlockKey args=[]"}

	_, err := newTestSubmitter(c, &fakeGate{}).Anchor(context.Background(), req)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindPreflightRejected, e.Kind)
	assert.Equal(t, "error: NoValidUnlockKey args=[]", e.Meta(apperrors.MetaReason))
	assert.Zero(t, c.count("estimate"))
	assert.Zero(t, c.count("submit"))
}

func TestAnchorPreflightUnavailableIsNotRejection(t *testing.T) {
	c := healthyContract()
	c.simErr = errors.New("dial tcp 10.0.0.1:8545: connect: connection refused")

	res, err := newTestSubmitter(c, &fakeGate{}).Anchor(context.Background(), req)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSubmissionFailed, e.Kind)
	assert.Equal(t, "PREFLIGHT_UNAVAILABLE", e.Meta(apperrors.MetaReason))
	assert.Empty(t, res.TxRef)
	assert.Zero(t, c.count("estimate"))
	assert.Zero(t, c.count("submit"))
}

func TestAnchorEstimateFailureUsesDefaultLimit(t *testing.T) {
	c := healthyContract()
	c.estErr = errors.New("gas required exceeds allowance")

	res, err := newTestSubmitter(c, &fakeGate{}).Anchor(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DefaultGasLimit, c.gasLimit)
	assert.Equal(t, DefaultGasLimit, res.GasLimit)
}

func TestAnchorSubmissionFailed(t *testing.T) {
	c := healthyContract()
	c.submitErr = errors.New("nonce too low")

	_, err := newTestSubmitter(c, &fakeGate{}).Anchor(context.Background(), req)
	assert.Equal(t, apperrors.KindSubmissionFailed, apperrors.KindOf(err))
	assert.Zero(t, c.count("await"))
}

func TestAnchorConfirmationTimeout(t *testing.T) {
	c := healthyContract()
	c.awaitBlock = true

	res, err := newTestSubmitter(c, &fakeGate{}, WithConfirmTimeout(20*time.Millisecond)).Anchor(context.Background(), req)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConfirmationTimeout, e.Kind)
	assert.Equal(t, "0xtx", e.Meta(apperrors.MetaTxRef))
	assert.Equal(t, "0xtx", res.TxRef)
	assert.Equal(t, 1, c.count("submit"))
}

func TestConfirmAwaitFailure(t *testing.T) {
	c := healthyContract()
	c.awaitErr = errors.New("transaction reverted on chain")

	_, err := newTestSubmitter(c, &fakeGate{}).Confirm(context.Background(), "0xabc")
	assert.Equal(t, apperrors.KindSubmissionFailed, apperrors.KindOf(err))
	assert.Equal(t, "0xabc", c.awaitedTx)
}

func TestConfirmRevertedIsMarked(t *testing.T) {
	c := healthyContract()
	c.awaitErr = fmt.Errorf("transaction 0xabc in block 3: %w", ErrReverted)

	res, err := newTestSubmitter(c, &fakeGate{}).Confirm(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrReverted)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSubmissionFailed, e.Kind)
	assert.Equal(t, "REVERTED", e.Meta(apperrors.MetaReason))
	assert.Equal(t, "0xabc", res.TxRef)
}

func TestConfirmCancelledKeepsTxRef(t *testing.T) {
	c := healthyContract()
	c.awaitBlock = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestSubmitter(c, &fakeGate{}).Anchor(ctx, req)
	assert.Equal(t, apperrors.KindSubmissionFailed, apperrors.KindOf(err))
	assert.NotErrorIs(t, err, ErrReverted)
	assert.Equal(t, "0xtx", res.TxRef)
}

func TestDemoAnchor(t *testing.T) {
	d := NewDemo(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return time.UnixMilli(1) }

	a, err := d.Anchor(context.Background(), req)
	require.NoError(t, err)
	b, err := d.Anchor(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.TxRef, b.TxRef)
	assert.Len(t, a.TxRef, 66)

	c, err := d.Confirm(context.Background(), a.TxRef)
	require.NoError(t, err)
	assert.Equal(t, a.TxRef, c.TxRef)
}
