package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertError is a simulated call that the node predicted would revert.
type RevertError struct {
	Reason string
	Err    error
}

func (e *RevertError) Error() string { return "execution reverted: " + e.Reason }

func (e *RevertError) Unwrap() error { return e.Err }

// RevertReason returns the decoded reason.
func (e *RevertError) RevertReason() string { return e.Reason }

const revertPrefix = "execution reverted: "

// isRevert reports whether err is the node predicting a revert, as opposed to
// a transport or RPC failure.
func isRevert(err error) bool {
	return len(revertData(err)) > 0 || strings.Contains(err.Error(), "execution reverted")
}

// DecodeRevert turns a failed call into a readable reason. It tries, in order:
// a Solidity Error(string) reason, the node's short message suffix, a custom
// error from the anchoring contract's catalog, and finally the raw message.
func DecodeRevert(err error) string {
	if err == nil {
		return ""
	}
	data := revertData(err)

	if len(data) > 0 {
		if reason, uerr := abi.UnpackRevert(data); uerr == nil && reason != "" {
			return "reason: " + reason
		}
	}

	if msg := err.Error(); strings.HasPrefix(msg, revertPrefix) {
		if short := strings.TrimSpace(strings.TrimPrefix(msg, revertPrefix)); short != "" {
			return short
		}
	}

	if len(data) >= 4 {
		if name, args, ok := matchCustomError(data); ok {
			return fmt.Sprintf("error: %s args=%v", name, args)
		}
	}

	return err.Error()
}

func revertData(err error) []byte {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil
	}
	switch v := de.ErrorData().(type) {
	case string:
		b, derr := hexutil.Decode(v)
		if derr != nil {
			return nil
		}
		return b
	case []byte:
		return v
	default:
		return nil
	}
}

func matchCustomError(data []byte) (string, []any, bool) {
	for name, e := range anchorABI.Errors {
		if string(e.ID.Bytes()[:4]) != string(data[:4]) {
			continue
		}
		args, err := e.Inputs.Unpack(data[4:])
		if err != nil {
			return name, nil, true
		}
		return name, args, true
	}
	return "", nil, false
}
