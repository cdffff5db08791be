package pipeline

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
)

// Invite is a request to open a payment intent.
type Invite struct {
	PayerHandle        string
	AmountText         string
	Code               string
	PayerName          string
	PayeeName          string
	PayeeHandle        string
	BeneficiaryAddress string
	Note               string
}

// CreateInvite persists an INVITE_SENT intent and sends the invitation to the payer.
// Re-inviting is allowed until the first pay command arrives.
func (s *Service) CreateInvite(ctx context.Context, inv Invite) (*intent.PaymentIntent, error) {
	inv.PayerHandle = strings.TrimSpace(inv.PayerHandle)
	inv.AmountText = strings.TrimSpace(inv.AmountText)
	code := intent.NormalizeCode(inv.Code)
	if inv.PayerHandle == "" || inv.AmountText == "" || code == "" {
		return nil, apperrors.New(apperrors.KindValidation, "missing fields")
	}
	amount, err := intent.ParseAmount(inv.AmountText)
	if err != nil {
		return nil, err
	}

	intentID := intent.ID(code)
	unlock := s.locks.Lock(intentID)
	defer unlock()

	prior, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !intent.CanTransition(prior.Status, intent.StatusInviteSent) {
		return nil, apperrors.New(apperrors.KindInvalidTransition,
			fmt.Sprintf("intent %s is already %s", code, prior.Status))
	}

	p := intent.Patch{
		IntentID:           intent.Ptr(intentID),
		AmountMinorUnits:   intent.Ptr(amount),
		PayerHandle:        intent.Ptr(inv.PayerHandle),
		PayerHandleHash:    intent.Ptr(intent.HandleHash(inv.PayerHandle)),
		PayerMasked:        intent.Ptr(intent.Mask(inv.PayerHandle)),
		PayeeHandle:        intent.Ptr(strings.TrimSpace(inv.PayeeHandle)),
		PayeeHandleHash:    intent.Ptr(intent.HandleHash(strings.TrimSpace(inv.PayeeHandle))),
		PayeeMasked:        intent.Ptr(intent.Mask(strings.TrimSpace(inv.PayeeHandle))),
		PayerName:          intent.Ptr(strings.TrimSpace(inv.PayerName)),
		PayeeName:          intent.Ptr(strings.TrimSpace(inv.PayeeName)),
		BeneficiaryAddress: intent.Ptr(strings.TrimSpace(inv.BeneficiaryAddress)),
		Note:               intent.Ptr(strings.TrimSpace(inv.Note)),
		Status:             intent.Ptr(intent.StatusInviteSent),
		UpdatedAt:          s.now(),
	}
	if err := s.store.Merge(ctx, code, p); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "persist invite", err)
	}

	it, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "reload invite", err)
	}
	s.log.Info("intent invited", "code", code, "intent_id", intentID, "payer", it.PayerMasked, "amount_minor", amount)

	if s.notifier != nil {
		s.notifier.Notify(ctx, inv.PayerHandle, InvitationText(*it))
	}
	return it, nil
}

// InvitationText is the message asking the payer to confirm with a pay command.
func InvitationText(it intent.PaymentIntent) string {
	who := "The user"
	if it.PayerName != "" {
		who = it.PayerName
	}
	to := ""
	switch {
	case it.PayeeName != "":
		to = " to " + it.PayeeName
	case it.PayeeHandle != "":
		to = " to " + it.PayeeHandle
	}
	amount := intent.FormatAmount(it.AmountMinorUnits)
	return fmt.Sprintf("PayAnchor: %s will pay S/ %s%s. Code: %s. Reply: %s %s %s",
		who, amount, to, it.Code, intent.Keywords[0], amount, it.Code)
}
