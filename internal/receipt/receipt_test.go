package receipt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

func sampleIntent() intent.PaymentIntent {
	return intent.PaymentIntent{
		Code:            "HACK001",
		PayerHandle:     "+51916856848",
		PayerHandleHash: intent.HandleHash("+51916856848"),
		PayerName:       "Ana",
		PayeeName:       "Bob",
		PayeeHandle:     "+51900000001",
		PayeeHandleHash: intent.HandleHash("+51900000001"),
		UpdatedAt:       time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC),
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	cmd, err := intent.ParseCommand("PAY 35.50 hack001")
	require.NoError(t, err)

	a := Build(sampleIntent(), cmd, "")
	b := Build(sampleIntent(), cmd, "")
	assert.Equal(t, a, b)

	ja, err := a.Marshal()
	require.NoError(t, err)
	jb, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, ja, jb)
}

func TestBuildFields(t *testing.T) {
	cmd, err := intent.ParseCommand("pay 35,50 hack001")
	require.NoError(t, err)

	r := Build(sampleIntent(), cmd, "telegram")
	assert.Equal(t, Version, r.Version)
	assert.Equal(t, "telegram", r.Channel)
	assert.Equal(t, "HACK001", r.Code)
	assert.Equal(t, intent.ID("HACK001"), r.IntentID)
	assert.Equal(t, int64(3550), r.AmountMinorUnits)
	assert.Equal(t, "PAY 35,50 HACK001", r.MessagePreview)
	assert.Equal(t, "HACK001.json", r.Filename())
	assert.Equal(t, sampleIntent().UpdatedAt, r.Time())
	require.NotNil(t, r.Payer.Name)
	assert.Equal(t, "Ana", *r.Payer.Name)
	assert.Nil(t, r.Payee.BeneficiaryAddress)
	assert.Nil(t, r.Note)
}

func TestMarshalShape(t *testing.T) {
	cmd, err := intent.ParseCommand("PAY 1 X1")
	require.NoError(t, err)
	raw, err := Build(intent.PaymentIntent{}, cmd, "").Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(2), doc["version"])
	assert.Equal(t, DefaultChannel, doc["channel"])
	assert.Contains(t, doc, "note")
	assert.Nil(t, doc["note"])
	payer := doc["payer"].(map[string]any)
	assert.Nil(t, payer["handle"])
}
