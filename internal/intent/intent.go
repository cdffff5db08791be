// Package intent holds the payment intent record and its lifecycle rules.
package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

// Status is the lifecycle position of an intent.
type Status string

const (
	StatusInviteSent  Status = "INVITE_SENT"
	StatusPending     Status = "PENDING"
	StatusSentOnChain Status = "SENT_ON_CHAIN"
	StatusSuccess     Status = "SUCCESS"
	StatusError       Status = "ERROR"
)

// transitions lists the allowed forward moves. The empty status is an absent record.
var transitions = map[Status][]Status{
	"":                {StatusInviteSent, StatusPending},
	StatusInviteSent:  {StatusInviteSent, StatusPending},
	StatusPending:     {StatusPending, StatusSentOnChain, StatusError},
	StatusSentOnChain: {StatusSuccess, StatusError},
	StatusError:       {StatusPending},
}

// CanTransition reports whether from -> to follows the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Anchored reports whether the intent is at or past SENT_ON_CHAIN.
func (s Status) Anchored() bool {
	return s == StatusSentOnChain || s == StatusSuccess
}

// Failure is the structured lastError record.
type Failure struct {
	Kind           apperrors.Kind `json:"kind"`
	Message        string         `json:"message"`
	Reason         string         `json:"reason,omitempty"`
	UpstreamStatus string         `json:"upstreamStatus,omitempty"`
	UpstreamBody   string         `json:"upstreamBody,omitempty"`
	TxRef          string         `json:"txRef,omitempty"`
	AttemptID      string         `json:"attemptId,omitempty"`
	At             time.Time      `json:"at"`
}

// FailureFrom converts a pipeline error into a persisted failure record.
func FailureFrom(err error, attemptID string, at time.Time) *Failure {
	f := &Failure{
		Kind:      apperrors.KindOf(err),
		Message:   err.Error(),
		AttemptID: attemptID,
		At:        at,
	}
	if e, ok := apperrors.As(err); ok {
		f.Reason = e.Meta(apperrors.MetaReason)
		f.UpstreamStatus = e.Meta(apperrors.MetaUpstreamStatus)
		f.UpstreamBody = e.Meta(apperrors.MetaUpstreamBody)
		f.TxRef = e.Meta(apperrors.MetaTxRef)
	}
	return f
}

// PaymentIntent is one payment negotiation keyed by its shared code.
type PaymentIntent struct {
	Code               string
	IntentID           string
	AmountMinorUnits   int64
	PayerHandle        string
	PayeeHandle        string
	PayerHandleHash    string
	PayeeHandleHash    string
	PayerName          string
	PayeeName          string
	PayerMasked        string
	PayeeMasked        string
	BeneficiaryAddress string
	Note               string
	Status             Status
	ContentID          string
	ContentLocator     string
	ContentProvider    string
	NamespaceID        string
	LedgerTxRef        string
	LastError          *Failure
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
}

// NormalizeCode canonicalises a shared code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Fingerprint returns "0x" + hex(sha256(s)).
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:])
}

// ID derives the intent identifier from a code. It is never read from input.
func ID(code string) string {
	return Fingerprint(NormalizeCode(code))
}

// HandleHash fingerprints a messaging handle, or returns "" for an empty handle.
func HandleHash(handle string) string {
	if handle == "" {
		return ""
	}
	return Fingerprint(handle)
}

// Mask hides every digit that is followed by at least two more digits.
func Mask(handle string) string {
	if handle == "" {
		return ""
	}
	rs := []rune(handle)
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = r
		if isDigit(r) && i+2 < len(rs) && isDigit(rs[i+1]) && isDigit(rs[i+2]) {
			out[i] = '•'
		}
	}
	return string(out)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
