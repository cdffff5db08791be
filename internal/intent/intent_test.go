package intent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

func TestIDIsStableFingerprint(t *testing.T) {
	a := ID("HACK001")
	assert.Equal(t, a, ID("HACK001"))
	assert.Equal(t, a, ID(" hack001 "))
	assert.NotEqual(t, a, ID("HACK002"))
	assert.Len(t, a, 66)
	assert.Equal(t, "0x", a[:2])
	// sha256("abc")
	assert.Equal(t, "0xba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Fingerprint("abc"))
}

func TestHandleHash(t *testing.T) {
	assert.Empty(t, HandleHash(""))
	assert.Equal(t, Fingerprint("+51916856848"), HandleHash("+51916856848"))
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"+51916856848": "+•••••••••48",
		"12":           "12",
		"123-45":       "•23-45",
		"alice":        "alice",
	}
	for in, want := range cases {
		assert.Equal(t, want, Mask(in), in)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{"", StatusInviteSent},
		{"", StatusPending},
		{StatusInviteSent, StatusPending},
		{StatusPending, StatusPending},
		{StatusPending, StatusSentOnChain},
		{StatusPending, StatusError},
		{StatusSentOnChain, StatusSuccess},
		{StatusSentOnChain, StatusError},
		{StatusError, StatusPending},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]Status{
		{StatusSuccess, StatusPending},
		{StatusSuccess, StatusError},
		{StatusSentOnChain, StatusPending},
		{StatusPending, StatusSuccess},
		{StatusError, StatusSuccess},
		{StatusPending, StatusInviteSent},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestStatusAnchored(t *testing.T) {
	assert.True(t, StatusSentOnChain.Anchored())
	assert.True(t, StatusSuccess.Anchored())
	assert.False(t, StatusPending.Anchored())
	assert.False(t, StatusError.Anchored())
}

func TestFailureFrom(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	err := apperrors.WithMetadata(apperrors.KindStorageUnavailable, "lighthouse upload", map[string]string{
		apperrors.MetaUpstreamStatus: "401",
		apperrors.MetaUpstreamBody:   "unauthorized",
	})

	f := FailureFrom(err, "01J9ATTEMPT", at)
	assert.Equal(t, apperrors.KindStorageUnavailable, f.Kind)
	assert.Equal(t, "401", f.UpstreamStatus)
	assert.Equal(t, "unauthorized", f.UpstreamBody)
	assert.Equal(t, "01J9ATTEMPT", f.AttemptID)
	assert.Equal(t, at, f.At)

	plain := FailureFrom(errors.New("boom"), "", at)
	assert.Equal(t, apperrors.KindUnknown, plain.Kind)
	assert.Equal(t, "boom", plain.Message)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"35.50", 3550},
		{"35,50", 3550},
		{"35", 3500},
		{"0.005", 1},
		{"0.004", 0},
		{"1.995", 200},
		{"10,1", 1010},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "abc", "-5", "1.2.3", "1e3", "35.5O"} {
		_, err := ParseAmount(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), bad)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "35.50", FormatAmount(3550))
	assert.Equal(t, "0.01", FormatAmount(1))
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("pay 35,50 hack001")
	require.NoError(t, err)
	assert.Equal(t, Command{Keyword: "PAY", AmountText: "35,50", AmountMinorUnits: 3550, Code: "HACK001"}, cmd)
	assert.Equal(t, "PAY 35,50 HACK001", cmd.Preview())

	cmd, err = ParseCommand("  PAGAR\t35.50   HACK001  thanks ")
	require.NoError(t, err)
	assert.Equal(t, "PAGAR", cmd.Keyword)
	assert.Equal(t, "HACK001", cmd.Code)

	for _, text := range []string{"HELLO", "", "PAY 35.50", "PAYMENT 1 X"} {
		_, err := ParseCommand(text)
		assert.ErrorIs(t, err, ErrNotACommand, text)
	}

	_, err = ParseCommand("PAY lots HACK001")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}
