package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/suspectuso/pay-anchor/internal/anchor"
)

// Paused reads the contract's circuit breaker.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	return c.callBool(ctx, &anchorABI, c.contract, methodPaused)
}

// IsRelayer reads whether address may submit anchors.
func (c *Client) IsRelayer(ctx context.Context, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid address %q", address)
	}
	return c.callBool(ctx, &anchorABI, c.contract, methodRelayers, common.HexToAddress(address))
}

// RegistryAddress reads the membership lock the contract gates on.
func (c *Client) RegistryAddress(ctx context.Context) (string, error) {
	addr, err := c.callAddress(ctx, &anchorABI, c.contract, methodRegistry)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

func (c *Client) anchorCalldata(req anchor.Request) ([]byte, error) {
	if !common.IsHexAddress(req.Beneficiary) {
		return nil, fmt.Errorf("invalid beneficiary %q", req.Beneficiary)
	}
	return anchorABI.Pack(methodAnchor, req.ContentID, req.IntentID, req.NamespaceID, common.HexToAddress(req.Beneficiary))
}

// Simulate dry-runs anchorReceipt. A predicted revert comes back as *RevertError;
// any other failure is returned as is.
func (c *Client) Simulate(ctx context.Context, req anchor.Request) error {
	data, err := c.anchorCalldata(req)
	if err != nil {
		return err
	}
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{From: c.relayer, To: &c.contract, Data: data}, nil)
	if err == nil {
		return nil
	}
	if !isRevert(err) {
		return fmt.Errorf("simulate anchor: %w", err)
	}
	return &RevertError{Reason: DecodeRevert(err), Err: err}
}

// EstimateCost estimates gas for anchorReceipt.
func (c *Client) EstimateCost(ctx context.Context, req anchor.Request) (uint64, error) {
	data, err := c.anchorCalldata(req)
	if err != nil {
		return 0, err
	}
	return c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.relayer, To: &c.contract, Data: data})
}

// Submit signs and sends anchorReceipt with the given gas limit.
func (c *Client) Submit(ctx context.Context, req anchor.Request, gasLimit uint64) (string, error) {
	data, err := c.anchorCalldata(req)
	if err != nil {
		return "", err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit

	bound := bind.NewBoundContract(c.contract, anchorABI, c.backend, c.backend, c.backend)
	tx, err := bound.RawTransact(opts, data)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// AwaitConfirmation polls for the transaction receipt until it is mined or ctx ends.
func (c *Client) AwaitConfirmation(ctx context.Context, txRef string) (anchor.Confirmation, error) {
	hash := common.HexToHash(txRef)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		rcpt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return anchor.Confirmation{}, fmt.Errorf("transaction %s in block %d: %w", txRef, rcpt.BlockNumber.Uint64(), anchor.ErrReverted)
			}
			return anchor.Confirmation{BlockNumber: rcpt.BlockNumber.Uint64(), GasUsed: rcpt.GasUsed}, nil
		case !errors.Is(err, ethereum.NotFound):
			c.log.Debug("receipt lookup failed", "tx", txRef, "error", err)
		}

		select {
		case <-ctx.Done():
			return anchor.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
