package server

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
)

// Request payloads. Money travels as decimal strings.

type CreateNegotiationRequest struct {
	ID          string `json:"id,omitempty"`
	ListingID   string `json:"listing_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	PremiumTier string `json:"premium_tier,omitempty" enum:"STANDARD,PREMIUM,PREMIUM_SLA"`
	Currency    string `json:"currency,omitempty" minLength:"3" maxLength:"3"`
	Price       string `json:"price" example:"120.00"`
	Quantity    int    `json:"quantity" minimum:"1"`
	Note        string `json:"note,omitempty" maxLength:"1000"`
}

type OfferRequest struct {
	Price    string `json:"price" example:"110.50"`
	Quantity int    `json:"quantity" minimum:"1"`
	Note     string `json:"note,omitempty" maxLength:"1000"`
}

type FundEscrowRequest struct {
	Amount string `json:"amount" example:"240.00"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty" maxLength:"1000"`
}

type RevisionRequest struct {
	Body    string `json:"body"`
	Summary string `json:"summary,omitempty"`
}

type CommentRequest struct {
	Clause int    `json:"clause" minimum:"0"`
	Offset int    `json:"offset,omitempty" minimum:"0"`
	Quote  string `json:"quote,omitempty"`
	Body   string `json:"body" maxLength:"4000"`
}

type UpdateCommentRequest struct {
	Resolved bool `json:"resolved"`
}

// Response payloads

type OfferResponse struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	AuthorID  string    `json:"author_id"`
	Price     string    `json:"price"`
	Quantity  int       `json:"quantity"`
	Total     string    `json:"total"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type EscrowResponse struct {
	ExpectedAmount string     `json:"expected_amount"`
	FundedAmount   string     `json:"funded_amount"`
	Remaining      string     `json:"remaining"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type NegotiationResponse struct {
	ID               string                     `json:"id"`
	ListingID        string                     `json:"listing_id"`
	BuyerID          string                     `json:"buyer_id"`
	SellerID         string                     `json:"seller_id"`
	Status           string                     `json:"status"`
	PremiumTier      string                     `json:"premium_tier"`
	Currency         string                     `json:"currency"`
	Version          int                        `json:"version"`
	CreatedBy        string                     `json:"created_by"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
	Offers           []OfferResponse            `json:"offers"`
	Escrow           *EscrowResponse            `json:"escrow,omitempty"`
	Signatures       []domain.ContractSignature `json:"signatures"`
	FundedRatio      float64                    `json:"funded_ratio"`
	ViewerRole       string                     `json:"viewer_role,omitempty"`
	PendingApprovals map[string][]string        `json:"pending_approvals,omitempty"`
}

type RevisionResponse struct {
	domain.ContractRevision
	Created bool `json:"created"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

func parseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.CodeValidationFailed, "%s must be a decimal number", field)
	}
	return d, nil
}

func mapNegotiation(v engine.NegotiationView) NegotiationResponse {
	out := NegotiationResponse{
		ID:          v.ID,
		ListingID:   v.ListingID,
		BuyerID:     v.BuyerID,
		SellerID:    v.SellerID,
		Status:      string(v.Status),
		PremiumTier: string(v.PremiumTier),
		Currency:    v.Currency,
		Version:     v.Version,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		Offers:      make([]OfferResponse, 0, len(v.Offers)),
		Signatures:  nonNilSlice(v.Signatures),
		FundedRatio: v.FundedRatio,
		ViewerRole:  string(v.ViewerRole),
	}
	for _, o := range v.Offers {
		out.Offers = append(out.Offers, OfferResponse{
			ID:        o.ID,
			Seq:       o.Seq,
			AuthorID:  o.AuthorID,
			Price:     o.Price.String(),
			Quantity:  o.Quantity,
			Total:     o.Total().String(),
			Note:      o.Note,
			CreatedAt: o.CreatedAt,
		})
	}
	if esc := v.Escrow; esc != nil {
		out.Escrow = &EscrowResponse{
			ExpectedAmount: esc.ExpectedAmount.String(),
			FundedAmount:   esc.FundedAmount.String(),
			Remaining:      esc.Remaining().String(),
			ReleasedAt:     esc.ReleasedAt,
			RefundedAt:     esc.RefundedAt,
			UpdatedAt:      esc.UpdatedAt,
		}
	}
	if len(v.PendingApprovals) > 0 {
		out.PendingApprovals = make(map[string][]string, len(v.PendingApprovals))
		for action, parties := range v.PendingApprovals {
			out.PendingApprovals[string(action)] = parties
		}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
