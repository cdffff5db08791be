// Package ledger talks to the EVM chain hosting the anchoring and membership contracts.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var errEmptyResult = errors.New("empty call result")

// Backend is the node surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config holds ledger credentials and addresses.
type Config struct {
	RPCURL      string
	PrivateKey  string
	Contract    string
	Beneficiary string
}

// Enabled reports whether enough is configured to reach the chain.
func (c Config) Enabled() bool {
	return c.RPCURL != "" && c.PrivateKey != "" && c.Contract != ""
}

// Client is the anchoring contract binding plus membership registry access.
type Client struct {
	backend     Backend
	key         *ecdsa.PrivateKey
	chainID     *big.Int
	relayer     common.Address
	beneficiary common.Address
	contract    common.Address
	pollEvery   time.Duration
	log         *slog.Logger
	closer      func()
}

// Dial connects to the RPC endpoint and loads the relayer key.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := New(ctx, eth, cfg, log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// New builds a Client over an existing backend.
func New(ctx context.Context, backend Backend, cfg Config, log *slog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	relayer := crypto.PubkeyToAddress(key.PublicKey)
	beneficiary := relayer
	if b := strings.TrimSpace(cfg.Beneficiary); b != "" {
		if !common.IsHexAddress(b) {
			return nil, fmt.Errorf("invalid beneficiary address %q", b)
		}
		beneficiary = common.HexToAddress(b)
	}

	return &Client{
		backend:     backend,
		key:         key,
		chainID:     chainID,
		relayer:     relayer,
		beneficiary: beneficiary,
		contract:    common.HexToAddress(cfg.Contract),
		pollEvery:   2 * time.Second,
		log:         log,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Relayer is the address transactions are sent from.
func (c *Client) Relayer() string { return c.relayer.Hex() }

// ChainID is the connected chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Contract is the anchoring contract address.
func (c *Client) Contract() string { return c.contract.Hex() }

// ResolveBeneficiary returns candidate when it is a valid address, else the
// configured default beneficiary.
func (c *Client) ResolveBeneficiary(candidate string) string {
	if common.IsHexAddress(strings.TrimSpace(candidate)) {
		return common.HexToAddress(strings.TrimSpace(candidate)).Hex()
	}
	return c.beneficiary.Hex()
}

// call packs, executes and unpacks a read-only contract call.
func (c *Client) call(ctx context.Context, parsed *abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.relayer, To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, errEmptyResult)
	}
	res, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%s: %w", method, errEmptyResult)
	}
	return res, nil
}

func (c *Client) callBool(ctx context.Context, parsed *abi.ABI, to common.Address, method string, args ...any) (bool, error) {
	res, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := res[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected result type %T", method, res[0])
	}
	return v, nil
}

func (c *Client) callUint(ctx context.Context, parsed *abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	res, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, res[0])
	}
	return v, nil
}

func (c *Client) callAddress(ctx context.Context, parsed *abi.ABI, to common.Address, method string, args ...any) (common.Address, error) {
	res, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := res[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected result type %T", method, res[0])
	}
	return v, nil
}
