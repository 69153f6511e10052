package engine

import (
	"context"
	"database/sql"
	"slices"

	"github.com/shopspring/decimal"

	"dealdesk/internal/domain"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/events"
)

const (
	EventEscrowPartiallyFunded = "ESCROW_PARTIALLY_FUNDED"
	EventEscrowFunded          = "ESCROW_FUNDED"
	EventEscrowReleaseApproved = "ESCROW_RELEASE_APPROVED"
	EventEscrowRefundApproved  = "ESCROW_REFUND_APPROVED"
	EventEscrowReleased        = "ESCROW_RELEASED"
	EventEscrowRefunded        = "ESCROW_REFUNDED"
)

// FundEscrow adds amount to the escrow. Reaching the expected amount moves
// the negotiation to ESCROW_FUNDED; less than that only records the funds.
func (e Engine) FundEscrow(ctx context.Context, negotiationID string, viewer auth.Viewer, amount decimal.Decimal) (NegotiationView, error) {
	if !amount.IsPositive() {
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "amount must be greater than zero")
	}
	return e.mutate(ctx, negotiationID, viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequireBuyerOrAdmin(viewer, *n, "fund"); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, domain.StatusEscrowFunded); err != nil {
			return mutation{}, err
		}
		esc := n.Escrow
		if esc == nil {
			return mutation{}, domain.Errorf(domain.CodeNotFound, "negotiation %s has no escrow account", n.ID)
		}
		funded := esc.FundedAmount.Add(amount)
		if funded.GreaterThan(esc.ExpectedAmount) {
			return mutation{}, domain.Errorf(domain.CodeValidationFailed, "amount %s exceeds remaining escrow balance %s", amount, esc.Remaining()).
				WithDetails(map[string]any{"remaining": esc.Remaining().String(), "expected": esc.ExpectedAmount.String()})
		}
		if err := e.Repo.SetEscrowFunded(ctx, tx, n.ID, funded, e.now()); err != nil {
			return mutation{}, err
		}
		esc.FundedAmount = funded
		payload := events.EventPayload{
			"amount":          amount.String(),
			"funded_amount":   funded.String(),
			"expected_amount": esc.ExpectedAmount.String(),
		}
		if funded.Equal(esc.ExpectedAmount) {
			return mutation{EventType: EventEscrowFunded, To: domain.StatusEscrowFunded, Payload: payload}, nil
		}
		return mutation{EventType: EventEscrowPartiallyFunded, Payload: payload}, nil
	})
}

// ReleaseEscrow releases held funds to the seller. An admin releases
// immediately; otherwise both parties must approve.
func (e Engine) ReleaseEscrow(ctx context.Context, negotiationID string, viewer auth.Viewer) (NegotiationView, error) {
	return e.settleEscrow(ctx, negotiationID, viewer, domain.EscrowActionRelease)
}

// RefundEscrow returns held funds to the buyer under the same approval rule.
func (e Engine) RefundEscrow(ctx context.Context, negotiationID string, viewer auth.Viewer) (NegotiationView, error) {
	return e.settleEscrow(ctx, negotiationID, viewer, domain.EscrowActionRefund)
}

func (e Engine) settleEscrow(ctx context.Context, negotiationID string, viewer auth.Viewer, action domain.EscrowAction) (NegotiationView, error) {
	target, approvedEvt, doneEvt := domain.StatusEscrowReleased, EventEscrowReleaseApproved, EventEscrowReleased
	if action == domain.EscrowActionRefund {
		target, approvedEvt, doneEvt = domain.StatusEscrowRefunded, EventEscrowRefundApproved, EventEscrowRefunded
	}
	return e.mutate(ctx, negotiationID, viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequirePartyOrAdmin(viewer, *n, string(action)); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, target); err != nil {
			return mutation{}, err
		}
		if n.Escrow == nil {
			return mutation{}, domain.Errorf(domain.CodeNotFound, "negotiation %s has no escrow account", n.ID)
		}
		payload := events.EventPayload{"action": action}
		if !viewer.Admin {
			prior, err := e.Repo.ListApprovalsTx(ctx, tx, n.ID)
			if err != nil {
				return mutation{}, err
			}
			if slices.Contains(prior[action], viewer.ID) {
				return mutation{Skip: true}, nil
			}
			if err := e.Repo.AddApproval(ctx, tx, domain.EscrowApproval{
				NegotiationID: n.ID,
				Action:        action,
				PartyID:       viewer.ID,
				CreatedAt:     e.now(),
			}); err != nil {
				return mutation{}, err
			}
			approvals, err := e.Repo.ListApprovalsTx(ctx, tx, n.ID)
			if err != nil {
				return mutation{}, err
			}
			if !approvedByBoth(*n, approvals[action]) {
				payload["approved_by"] = approvals[action]
				return mutation{EventType: approvedEvt, Payload: payload}, nil
			}
			payload["approved_by"] = approvals[action]
		}
		now := e.now()
		var err error
		if action == domain.EscrowActionRelease {
			err = e.Repo.MarkEscrowReleased(ctx, tx, n.ID, now)
		} else {
			err = e.Repo.MarkEscrowRefunded(ctx, tx, n.ID, now)
		}
		if err != nil {
			return mutation{}, err
		}
		if err := e.Repo.ClearApprovals(ctx, tx, n.ID); err != nil {
			return mutation{}, err
		}
		payload["amount"] = n.Escrow.FundedAmount.String()
		return mutation{EventType: doneEvt, To: target, Payload: payload}, nil
	})
}

func approvedByBoth(n domain.Negotiation, parties []string) bool {
	var buyer, seller bool
	for _, p := range parties {
		switch p {
		case n.BuyerID:
			buyer = true
		case n.SellerID:
			seller = true
		}
	}
	return buyer && seller
}
