package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/pipeline"
	"github.com/suspectuso/pay-anchor/internal/receipt"
	"github.com/suspectuso/pay-anchor/internal/storage"
)

const maxBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}

	it, err := s.pipeline.CreateInvite(r.Context(), pipeline.Invite{
		PayerHandle:        f.first("phone"),
		AmountText:         f.first("amount"),
		Code:               f.first("code"),
		PayerName:          f.first("payerName"),
		PayeeName:          f.first("toName"),
		PayeeHandle:        f.first("toPhone"),
		BeneficiaryAddress: f.first("toAddr"),
		Note:               f.first("note"),
	})
	if err != nil {
		s.log.Warn("create intent", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "intentId": it.IntentID, "code": it.Code})
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	code := intent.NormalizeCode(chi.URLParam(r, "code"))
	it, err := s.intents.Get(r.Context(), code)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	if err != nil {
		s.log.Error("get intent", "code", code, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentView(it))
}

// handleInbound always answers 200 OK; the pipeline runs detached from the request.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		s.log.Warn("invalid inbound payload", "error", err)
		writeOK(w)
		return
	}

	in := pipeline.Inbound{
		From:      f.first("From", "FromNumber", "msisdn"),
		Text:      f.first("Body", "text"),
		Channel:   receipt.DefaultChannel,
	}
	if f.first("reprocess") == "1" {
		if s.hasAdminToken(r) {
			in.Reprocess = true
		} else {
			s.log.Warn("reprocess flag ignored on unauthenticated inbound", "from", intent.Mask(in.From))
		}
	}
	if in.Text == "" {
		s.log.Debug("inbound without text", "from", intent.Mask(in.From))
		writeOK(w)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.process(ctx, in)
	}()

	writeOK(w)
}

func (s *Server) process(ctx context.Context, in pipeline.Inbound) {
	out, err := s.pipeline.HandleInbound(ctx, in)
	switch {
	case errors.Is(err, intent.ErrNotACommand):
		s.log.Debug("inbound ignored", "from", intent.Mask(in.From))
	case err != nil:
		s.log.Warn("inbound rejected", "from", intent.Mask(in.From), "code", out.Code, "error", err)
	default:
		s.log.Info("inbound processed", "code", out.Code, "status", out.Status, "skipped", out.Skipped)
	}
}

func (s *Server) handleConfirmAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.confirmer.ForceConfirm(r.Context())
	if err != nil {
		s.log.Error("confirm all", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error(), "confirmed": n})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "confirmed": n})
}

// handleReprocess reruns the pipeline for a stored intent, bypassing the
// guard on anchored intents.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	code := intent.NormalizeCode(chi.URLParam(r, "code"))
	it, err := s.intents.Get(r.Context(), code)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	if err != nil {
		s.log.Error("get intent", "code", code, "error", err)
		writeError(w, err)
		return
	}

	out, err := s.pipeline.HandleInbound(r.Context(), pipeline.Inbound{
		From:      it.PayerHandle,
		Text:      fmt.Sprintf("%s %s %s", intent.Keywords[0], intent.FormatAmount(it.AmountMinorUnits), it.Code),
		Channel:   receipt.DefaultChannel,
		Reprocess: true,
	})
	if err != nil {
		s.log.Warn("reprocess", "code", code, "error", err)
		writeError(w, err)
		return
	}
	s.log.Info("intent reprocessed", "code", code, "status", out.Status, "tx", out.TxRef)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "code": out.Code, "status": out.Status, "txRef": out.TxRef})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if s.debugger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"mode": "demo"})
		return
	}
	writeJSON(w, http.StatusOK, s.debugger.Debug(r.Context()))
}

// intentView is the public shape of an intent. Raw handles are never exposed.
type intentView struct {
	Code             string          `json:"code"`
	IntentID         string          `json:"intentId"`
	Status           intent.Status   `json:"status"`
	Amount           string          `json:"amount"`
	AmountMinorUnits int64           `json:"amountMinorUnits"`
	PayerName        string          `json:"payerName,omitempty"`
	PayerMasked      string          `json:"payerMasked,omitempty"`
	PayeeName        string          `json:"payeeName,omitempty"`
	PayeeMasked      string          `json:"payeeMasked,omitempty"`
	Beneficiary      string          `json:"beneficiaryAddress,omitempty"`
	ContentID        string          `json:"contentId,omitempty"`
	ContentLocator   string          `json:"contentLocator,omitempty"`
	NamespaceID      string          `json:"namespaceId,omitempty"`
	LedgerTxRef      string          `json:"ledgerTxRef,omitempty"`
	LastError        *intent.Failure `json:"lastError,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
}

func newIntentView(it *intent.PaymentIntent) intentView {
	return intentView{
		Code:             it.Code,
		IntentID:         it.IntentID,
		Status:           it.Status,
		Amount:           intent.FormatAmount(it.AmountMinorUnits),
		AmountMinorUnits: it.AmountMinorUnits,
		PayerName:        it.PayerName,
		PayerMasked:      it.PayerMasked,
		PayeeName:        it.PayeeName,
		PayeeMasked:      it.PayeeMasked,
		Beneficiary:      it.BeneficiaryAddress,
		ContentID:        it.ContentID,
		ContentLocator:   it.ContentLocator,
		NamespaceID:      it.NamespaceID,
		LedgerTxRef:      it.LedgerTxRef,
		LastError:        it.LastError,
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
		ConfirmedAt:      it.ConfirmedAt,
	}
}

// fields is a flattened form or JSON body plus the query string.
type fields map[string]string

// first returns the first non-empty value among keys.
func (f fields) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v
		}
	}
	return ""
}

func readFields(r *http.Request) (fields, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
	out := fields{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		for k, v := range raw {
			switch tv := v.(type) {
			case nil:
			case string:
				out[k] = tv
			case json.Number:
				out[k] = tv.String()
			default:
				out[k] = fmt.Sprint(tv)
			}
		}
		for k, v := range r.URL.Query() {
			if _, ok := out[k]; !ok && len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	msg := err.Error()
	if e, ok := apperrors.As(err); ok {
		msg = e.Message
	}
	writeJSON(w, kind.HTTPStatus(), map[string]any{"ok": false, "error": msg, "kind": kind})
}
