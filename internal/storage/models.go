package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

// intentColumns is the select list matching scanIntent.
const intentColumns = `code, intent_id, amount_minor, payer_handle, payee_handle,
	payer_handle_hash, payee_handle_hash, payer_name, payee_name, payer_masked, payee_masked,
	beneficiary_address, note, status, content_id, content_locator, content_provider,
	namespace_id, ledger_tx_ref, last_error, created_at, updated_at, confirmed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(row scanner) (*intent.PaymentIntent, error) {
	var (
		it          intent.PaymentIntent
		status      string
		lastError   string
		createdAt   int64
		updatedAt   int64
		confirmedAt sql.NullInt64
	)
	err := row.Scan(
		&it.Code, &it.IntentID, &it.AmountMinorUnits, &it.PayerHandle, &it.PayeeHandle,
		&it.PayerHandleHash, &it.PayeeHandleHash, &it.PayerName, &it.PayeeName, &it.PayerMasked, &it.PayeeMasked,
		&it.BeneficiaryAddress, &it.Note, &status, &it.ContentID, &it.ContentLocator, &it.ContentProvider,
		&it.NamespaceID, &it.LedgerTxRef, &lastError, &createdAt, &updatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	it.Status = intent.Status(status)
	it.CreatedAt = time.UnixMilli(createdAt).UTC()
	it.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if confirmedAt.Valid {
		t := time.UnixMilli(confirmedAt.Int64).UTC()
		it.ConfirmedAt = &t
	}
	if lastError != "" {
		var f intent.Failure
		if err := json.Unmarshal([]byte(lastError), &f); err != nil {
			return nil, err
		}
		it.LastError = &f
	}
	return &it, nil
}

// assignments turns a patch into "column = ?" pairs. updated_at is always set.
func assignments(p intent.Patch) ([]string, []any, error) {
	var (
		cols []string
		args []any
	)
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	str := func(col string, v *string) {
		if v != nil {
			add(col, *v)
		}
	}

	str("intent_id", p.IntentID)
	if p.AmountMinorUnits != nil {
		add("amount_minor", *p.AmountMinorUnits)
	}
	str("payer_handle", p.PayerHandle)
	str("payee_handle", p.PayeeHandle)
	str("payer_handle_hash", p.PayerHandleHash)
	str("payee_handle_hash", p.PayeeHandleHash)
	str("payer_name", p.PayerName)
	str("payee_name", p.PayeeName)
	str("payer_masked", p.PayerMasked)
	str("payee_masked", p.PayeeMasked)
	str("beneficiary_address", p.BeneficiaryAddress)
	str("note", p.Note)
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	str("content_id", p.ContentID)
	str("content_locator", p.ContentLocator)
	str("content_provider", p.ContentProvider)
	str("namespace_id", p.NamespaceID)
	str("ledger_tx_ref", p.LedgerTxRef)
	switch {
	case p.ClearLastError:
		add("last_error", "")
	case p.LastError != nil:
		raw, err := json.Marshal(p.LastError)
		if err != nil {
			return nil, nil, err
		}
		add("last_error", string(raw))
	}
	if p.ConfirmedAt != nil {
		add("confirmed_at", p.ConfirmedAt.UnixMilli())
	}

	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	add("updated_at", updated.UnixMilli())
	return cols, args, nil
}
