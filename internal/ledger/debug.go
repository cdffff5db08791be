package ledger

import (
	"context"
	"strings"
)

// Snapshot is the contract state shown on the admin debug view.
// Pointer fields are nil when the read failed.
type Snapshot struct {
	ChainID              string `json:"chainId"`
	Contract             string `json:"contract"`
	Paused               *bool  `json:"paused"`
	Sender               string `json:"sender"`
	Beneficiary          string `json:"beneficiary"`
	SenderIsRelayer      *bool  `json:"senderIsRelayer"`
	BeneficiaryIsRelayer *bool  `json:"beneficiaryIsRelayer"`
	Registry             string `json:"registry"`
}

// Debug reads the contract flags relevant to anchoring.
func (c *Client) Debug(ctx context.Context) Snapshot {
	s := Snapshot{
		ChainID:     c.chainID.String(),
		Contract:    c.contract.Hex(),
		Sender:      c.relayer.Hex(),
		Beneficiary: c.beneficiary.Hex(),
		Registry:    "0x",
	}
	if v, err := c.Paused(ctx); err == nil {
		s.Paused = &v
	}
	if v, err := c.IsRelayer(ctx, s.Sender); err == nil {
		s.SenderIsRelayer = &v
	}
	if v, err := c.IsRelayer(ctx, s.Beneficiary); err == nil {
		s.BeneficiaryIsRelayer = &v
	}
	if v, err := c.RegistryAddress(ctx); err == nil && !strings.EqualFold(v, "0x0000000000000000000000000000000000000000") {
		s.Registry = v
	}
	return s
}
