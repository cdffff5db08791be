// Package receipt assembles the immutable evidentiary record of a pay command.
package receipt

import (
	"encoding/json"
	"time"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

const (
	// Version is the receipt schema version.
	Version = 2
	// DefaultChannel tags receipts produced from the messaging channel.
	DefaultChannel = "virtualPhone"
)

// Party describes one side of the payment.
type Party struct {
	Name               *string `json:"name"`
	Handle             *string `json:"handle"`
	HandleHash         *string `json:"handleHash"`
	BeneficiaryAddress *string `json:"beneficiaryAddress,omitempty"`
}

// Receipt is the record stored in content-addressed storage.
type Receipt struct {
	Version          int     `json:"version"`
	Channel          string  `json:"channel"`
	Code             string  `json:"code"`
	IntentID         string  `json:"intentId"`
	AmountMinorUnits int64   `json:"amountMinorUnits"`
	Timestamp        int64   `json:"ts"`
	MessagePreview   string  `json:"messagePreview"`
	Payer            Party   `json:"payer"`
	Payee            Party   `json:"payee"`
	Note             *string `json:"note"`
}

// Build derives a receipt from an intent and the parsed inbound command.
// The timestamp is the intent's UpdatedAt so the output depends only on its inputs.
func Build(it intent.PaymentIntent, cmd intent.Command, channel string) Receipt {
	if channel == "" {
		channel = DefaultChannel
	}
	code := intent.NormalizeCode(cmd.Code)
	return Receipt{
		Version:          Version,
		Channel:          channel,
		Code:             code,
		IntentID:         intent.ID(code),
		AmountMinorUnits: cmd.AmountMinorUnits,
		Timestamp:        it.UpdatedAt.UnixMilli(),
		MessagePreview:   cmd.Preview(),
		Payer: Party{
			Name:       optional(it.PayerName),
			Handle:     optional(it.PayerHandle),
			HandleHash: optional(it.PayerHandleHash),
		},
		Payee: Party{
			Name:               optional(it.PayeeName),
			Handle:             optional(it.PayeeHandle),
			HandleHash:         optional(it.PayeeHandleHash),
			BeneficiaryAddress: optional(it.BeneficiaryAddress),
		},
		Note: optional(it.Note),
	}
}

// Filename is the blob name used when storing the receipt.
func (r Receipt) Filename() string {
	if r.Code != "" {
		return r.Code + ".json"
	}
	return r.IntentID + ".json"
}

// Marshal renders the receipt as indented JSON.
func (r Receipt) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Time returns the receipt timestamp.
func (r Receipt) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
