package eligibility

import (
	"context"
	"math/big"
)

// ExpiryStrategy is one registry query scheme for membership expiration.
type ExpiryStrategy interface {
	Name() string
	Expiration(ctx context.Context, reg Registry, holder string) (*big.Int, error)
}

// LegacyAddressKeyed reads expiration keyed by holder address.
type LegacyAddressKeyed struct{}

func (LegacyAddressKeyed) Name() string { return "legacy_address_keyed" }

func (LegacyAddressKeyed) Expiration(ctx context.Context, reg Registry, holder string) (*big.Int, error) {
	return reg.ExpirationByAddress(ctx, holder)
}

// TokenIDKeyed resolves the holder's first token and reads expiration by token id.
type TokenIDKeyed struct{}

func (TokenIDKeyed) Name() string { return "token_id_keyed" }

func (TokenIDKeyed) Expiration(ctx context.Context, reg Registry, holder string) (*big.Int, error) {
	count, err := reg.HoldingCount(ctx, holder)
	if err != nil {
		return nil, err
	}
	if count == nil || count.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	tokenID, err := reg.TokenOfOwnerByIndex(ctx, holder, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return reg.ExpirationByToken(ctx, tokenID)
}
