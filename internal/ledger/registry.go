package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/suspectuso/pay-anchor/internal/eligibility"
)

// lockRegistry is a membership lock bound at one address.
type lockRegistry struct {
	c    *Client
	addr common.Address
}

// Registry binds the membership lock at address.
func (c *Client) Registry(address string) (eligibility.Registry, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid registry address %q", address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("registry address is zero")
	}
	return &lockRegistry{c: c, addr: addr}, nil
}

func holderAddress(holder string) (common.Address, error) {
	if !common.IsHexAddress(holder) {
		return common.Address{}, fmt.Errorf("invalid holder address %q", holder)
	}
	return common.HexToAddress(holder), nil
}

func (r *lockRegistry) HasValidAccess(ctx context.Context, holder string) (bool, error) {
	addr, err := holderAddress(holder)
	if err != nil {
		return false, err
	}
	return r.c.callBool(ctx, &lockABI, r.addr, methodHasKey, addr)
}

func (r *lockRegistry) ExpirationByAddress(ctx context.Context, holder string) (*big.Int, error) {
	addr, err := holderAddress(holder)
	if err != nil {
		return nil, err
	}
	return r.c.callUint(ctx, &lockABI, r.addr, methodExpByAddr, addr)
}

func (r *lockRegistry) ExpirationByToken(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	return r.c.callUint(ctx, &lockABI, r.addr, methodExpByToken, tokenID)
}

func (r *lockRegistry) HoldingCount(ctx context.Context, holder string) (*big.Int, error) {
	addr, err := holderAddress(holder)
	if err != nil {
		return nil, err
	}
	return r.c.callUint(ctx, &lockABI, r.addr, methodBalanceOf, addr)
}

func (r *lockRegistry) TokenOfOwnerByIndex(ctx context.Context, holder string, index *big.Int) (*big.Int, error) {
	addr, err := holderAddress(holder)
	if err != nil {
		return nil, err
	}
	return r.c.callUint(ctx, &lockABI, r.addr, methodTokenOfOwner, addr, index)
}
