package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// anchorABIJSON describes the receipt anchoring contract.
const anchorABIJSON = `[
  {"type":"event","name":"ReceiptAnchored","anonymous":false,"inputs":[
    {"name":"cidHash","type":"bytes32","indexed":true},
    {"name":"cid","type":"string","indexed":false},
    {"name":"intentId","type":"string","indexed":false},
    {"name":"spaceDid","type":"string","indexed":false},
    {"name":"relayer","type":"address","indexed":true}]},
  {"type":"function","name":"anchorReceipt","stateMutability":"nonpayable","inputs":[
    {"name":"cid","type":"string"},
    {"name":"intentId","type":"string"},
    {"name":"spaceDid","type":"string"},
    {"name":"beneficiary","type":"address"}],"outputs":[]},
  {"type":"function","name":"relayers","stateMutability":"view","inputs":[{"name":"a","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"unlockLock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"error","name":"NoValidUnlockKey","inputs":[]}
]`

// lockABIJSON covers both the address-keyed (v8-v10) and token-keyed (v11+)
// membership lock accessors. The overloaded token-keyed accessor is exposed by
// the abi package as keyExpirationTimestampFor0.
const lockABIJSON = `[
  {"type":"function","name":"getHasValidKey","stateMutability":"view","inputs":[{"name":"_user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"keyExpirationTimestampFor","stateMutability":"view","inputs":[{"name":"_user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"keyExpirationTimestampFor","stateMutability":"view","inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodAnchor       = "anchorReceipt"
	methodRelayers     = "relayers"
	methodPaused       = "paused"
	methodRegistry     = "unlockLock"
	eventAnchored      = "ReceiptAnchored"
	methodHasKey       = "getHasValidKey"
	methodExpByAddr    = "keyExpirationTimestampFor"
	methodExpByToken   = "keyExpirationTimestampFor0"
	methodBalanceOf    = "balanceOf"
	methodTokenOfOwner = "tokenOfOwnerByIndex"
)

var (
	anchorABI = mustParseABI(anchorABIJSON)
	lockABI   = mustParseABI(lockABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("ledger: parse abi: " + err.Error())
	}
	return parsed
}
