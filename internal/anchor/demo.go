package anchor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

// Demo stands in for the ledger when no credentials are configured.
// It returns a synthetic transaction reference and never touches a network.
type Demo struct {
	log *slog.Logger
	now func() time.Time
}

// NewDemo creates a Demo anchorer.
func NewDemo(log *slog.Logger) *Demo {
	return &Demo{log: log, now: time.Now}
}

// Anchor returns "0x" + sha256(cid + intentId + now).
func (d *Demo) Anchor(_ context.Context, req Request) (Result, error) {
	ref := intent.Fingerprint(req.ContentID + req.IntentID + strconv.FormatInt(d.now().UnixMilli(), 10))
	d.log.Warn("ledger not configured, returning demo tx ref", "intent_id", req.IntentID, "tx", ref)
	return Result{TxRef: ref}, nil
}

// Confirm treats every demo reference as confirmed.
func (d *Demo) Confirm(_ context.Context, txRef string) (Result, error) {
	return Result{TxRef: txRef}, nil
}
