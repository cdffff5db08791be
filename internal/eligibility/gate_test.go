package eligibility

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

var errReverted = errors.New("execution reverted")

type fakeRegistry struct {
	access    bool
	accessErr error

	expByAddr    *big.Int
	expByAddrErr error

	count    *big.Int
	countErr error
	token    *big.Int
	expByTok *big.Int
	tokErr   error

	tokenCalls int
}

func (f *fakeRegistry) HasValidAccess(context.Context, string) (bool, error) {
	return f.access, f.accessErr
}

func (f *fakeRegistry) ExpirationByAddress(context.Context, string) (*big.Int, error) {
	return f.expByAddr, f.expByAddrErr
}

func (f *fakeRegistry) ExpirationByToken(_ context.Context, id *big.Int) (*big.Int, error) {
	f.tokenCalls++
	if f.tokErr != nil {
		return nil, f.tokErr
	}
	if f.token == nil || id.Cmp(f.token) != 0 {
		return nil, errReverted
	}
	return f.expByTok, nil
}

func (f *fakeRegistry) HoldingCount(context.Context, string) (*big.Int, error) {
	return f.count, f.countErr
}

func (f *fakeRegistry) TokenOfOwnerByIndex(context.Context, string, *big.Int) (*big.Int, error) {
	if f.token == nil {
		return nil, errReverted
	}
	return f.token, nil
}

type fakeDialer struct {
	reg  Registry
	addr string
}

func (d *fakeDialer) Registry(address string) (Registry, error) {
	d.addr = address
	return d.reg, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckAccessWithoutReadableExpiration(t *testing.T) {
	reg := &fakeRegistry{
		access:       true,
		expByAddrErr: errReverted,
		countErr:     errReverted,
	}
	d := &fakeDialer{reg: reg}

	res, err := NewGate(d, testLogger()).Check(context.Background(), "0xlock", "0xbeneficiary")
	require.NoError(t, err)
	assert.True(t, res.HasValidAccess)
	assert.Nil(t, res.ExpiresAt)
	assert.Equal(t, "0xlock", d.addr)
}

func TestCheckFalseIsIneligibleRegardlessOfExpiration(t *testing.T) {
	reg := &fakeRegistry{
		access:    false,
		expByAddr: big.NewInt(time.Now().Add(24 * time.Hour).Unix()),
	}

	res, err := NewGate(&fakeDialer{reg: reg}, testLogger()).Check(context.Background(), "0xlock", "0xb")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNoValidAccess, apperrors.KindOf(err))
	assert.False(t, res.HasValidAccess)
	assert.NotNil(t, res.ExpiresAt)
}

func TestCheckUnreadableFlagFailsClosed(t *testing.T) {
	reg := &fakeRegistry{accessErr: errors.New("connection reset"), expByAddr: big.NewInt(4102444800)}

	_, err := NewGate(&fakeDialer{reg: reg}, testLogger()).Check(context.Background(), "0xlock", "0xb")
	assert.Equal(t, apperrors.KindNoValidAccess, apperrors.KindOf(err))
}

func TestLegacyExpirationWins(t *testing.T) {
	reg := &fakeRegistry{access: true, expByAddr: big.NewInt(4102444800)}

	res, err := NewGate(&fakeDialer{reg: reg}, testLogger()).Check(context.Background(), "0xlock", "0xb")
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, int64(4102444800), res.ExpiresAt.Unix())
	assert.Equal(t, "legacy_address_keyed", res.Strategy)
	assert.Zero(t, reg.tokenCalls)
}

func TestTokenIDFallbackWhenLegacyZero(t *testing.T) {
	reg := &fakeRegistry{
		access:    true,
		expByAddr: big.NewInt(0),
		count:     big.NewInt(2),
		token:     big.NewInt(77),
		expByTok:  big.NewInt(4102444800),
	}

	res, err := NewGate(&fakeDialer{reg: reg}, testLogger()).Check(context.Background(), "0xlock", "0xb")
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, int64(4102444800), res.ExpiresAt.Unix())
	assert.Equal(t, "token_id_keyed", res.Strategy)
	assert.Equal(t, 1, reg.tokenCalls)
}

func TestTokenIDFallbackWhenLegacyAbsent(t *testing.T) {
	reg := &fakeRegistry{
		access:       true,
		expByAddrErr: errReverted,
		count:        big.NewInt(1),
		token:        big.NewInt(5),
		expByTok:     big.NewInt(4102444800),
	}

	res, err := NewGate(&fakeDialer{reg: reg}, testLogger()).Check(context.Background(), "0xlock", "0xb")
	require.NoError(t, err)
	assert.Equal(t, "token_id_keyed", res.Strategy)
}

func TestTokenIDKeyedNoHoldings(t *testing.T) {
	reg := &fakeRegistry{count: big.NewInt(0)}
	exp, err := TokenIDKeyed{}.Expiration(context.Background(), reg, "0xb")
	require.NoError(t, err)
	assert.Zero(t, exp.Sign())
	assert.Zero(t, reg.tokenCalls)
}
