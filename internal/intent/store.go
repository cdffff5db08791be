package intent

import (
	"context"
	"time"
)

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	IntentID           *string
	AmountMinorUnits   *int64
	PayerHandle        *string
	PayeeHandle        *string
	PayerHandleHash    *string
	PayeeHandleHash    *string
	PayerName          *string
	PayeeName          *string
	PayerMasked        *string
	PayeeMasked        *string
	BeneficiaryAddress *string
	Note               *string
	Status             *Status
	ContentID          *string
	ContentLocator     *string
	ContentProvider    *string
	NamespaceID        *string
	LedgerTxRef        *string
	LastError          *Failure
	ClearLastError     bool
	ConfirmedAt        *time.Time
	UpdatedAt          time.Time
}

// Store is the document store holding intents keyed by code.
type Store interface {
	// Get returns storage.ErrNotFound style errors when the code is absent.
	Get(ctx context.Context, code string) (*PaymentIntent, error)
	// Merge applies a partial update, creating the record when absent.
	Merge(ctx context.Context, code string, p Patch) error
	// CompareAndMerge applies p only if the current status equals expect.
	CompareAndMerge(ctx context.Context, code string, expect Status, p Patch) (bool, error)
	// ListByStatus returns intents with the given status ordered by update time.
	ListByStatus(ctx context.Context, status Status) ([]PaymentIntent, error)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Apply copies every set field of p onto it.
func (it *PaymentIntent) Apply(p Patch) {
	setString(&it.IntentID, p.IntentID)
	if p.AmountMinorUnits != nil {
		it.AmountMinorUnits = *p.AmountMinorUnits
	}
	setString(&it.PayerHandle, p.PayerHandle)
	setString(&it.PayeeHandle, p.PayeeHandle)
	setString(&it.PayerHandleHash, p.PayerHandleHash)
	setString(&it.PayeeHandleHash, p.PayeeHandleHash)
	setString(&it.PayerName, p.PayerName)
	setString(&it.PayeeName, p.PayeeName)
	setString(&it.PayerMasked, p.PayerMasked)
	setString(&it.PayeeMasked, p.PayeeMasked)
	setString(&it.BeneficiaryAddress, p.BeneficiaryAddress)
	setString(&it.Note, p.Note)
	if p.Status != nil {
		it.Status = *p.Status
	}
	setString(&it.ContentID, p.ContentID)
	setString(&it.ContentLocator, p.ContentLocator)
	setString(&it.ContentProvider, p.ContentProvider)
	setString(&it.NamespaceID, p.NamespaceID)
	setString(&it.LedgerTxRef, p.LedgerTxRef)
	switch {
	case p.ClearLastError:
		it.LastError = nil
	case p.LastError != nil:
		f := *p.LastError
		it.LastError = &f
	}
	if p.ConfirmedAt != nil {
		t := *p.ConfirmedAt
		it.ConfirmedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		it.UpdatedAt = p.UpdatedAt
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
