package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotMined is returned while a transaction has no receipt yet.
var ErrNotMined = errors.New("transaction not mined")

// VerifyAnchored reports whether txRef succeeded and emitted a ReceiptAnchored
// log from the anchoring contract for intentID.
func (c *Client) VerifyAnchored(ctx context.Context, txRef, intentID string) (bool, error) {
	rcpt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, ErrNotMined
		}
		return false, fmt.Errorf("fetch receipt %s: %w", txRef, err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}

	topic := anchorABI.Events[eventAnchored].ID
	for _, lg := range rcpt.Logs {
		if lg.Address != c.contract || len(lg.Topics) == 0 || lg.Topics[0] != topic {
			continue
		}
		// non-indexed fields: cid, intentId, spaceDid
		fields, err := anchorABI.Unpack(eventAnchored, lg.Data)
		if err != nil || len(fields) < 2 {
			c.log.Debug("undecodable anchored log", "tx", txRef, "error", err)
			continue
		}
		if id, _ := fields[1].(string); id == intentID {
			return true, nil
		}
	}
	return false, nil
}
