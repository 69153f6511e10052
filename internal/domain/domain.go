package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Negotiation struct {
	ID          string              `json:"id"`
	ListingID   string              `json:"listing_id"`
	BuyerID     string              `json:"buyer_id"`
	SellerID    string              `json:"seller_id"`
	Status      NegotiationStatus   `json:"status"`
	PremiumTier PremiumTier         `json:"premium_tier"`
	Currency    string              `json:"currency"`
	Version     int                 `json:"version"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Offers      []Offer             `json:"offers"`
	Escrow      *EscrowAccount      `json:"escrow,omitempty"`
	Signatures  []ContractSignature `json:"signatures,omitempty"`
}

// IsParty reports whether actorID is the buyer or the seller.
func (n Negotiation) IsParty(actorID string) bool {
	return actorID != "" && (actorID == n.BuyerID || actorID == n.SellerID)
}

// RoleOf returns the party role of actorID, or "" for outsiders.
func (n Negotiation) RoleOf(actorID string) ParticipantRole {
	switch actorID {
	case "":
		return ""
	case n.BuyerID:
		return RoleBuyer
	case n.SellerID:
		return RoleSeller
	}
	return ""
}

// PendingOffer is the most recent offer, the one awaiting a response.
func (n Negotiation) PendingOffer() *Offer {
	if len(n.Offers) == 0 {
		return nil
	}
	o := n.Offers[len(n.Offers)-1]
	return &o
}

type Offer struct {
	ID            string          `json:"id"`
	NegotiationID string          `json:"negotiation_id"`
	Seq           int             `json:"seq"`
	AuthorID      string          `json:"author_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Total is price times quantity.
func (o Offer) Total() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

type EscrowAccount struct {
	NegotiationID  string          `json:"negotiation_id"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	FundedAmount   decimal.Decimal `json:"funded_amount"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FundedRatio is funded/expected clamped to [0,1]; zero when nothing is expected.
func (e EscrowAccount) FundedRatio() float64 {
	if !e.ExpectedAmount.IsPositive() {
		return 0
	}
	r, _ := e.FundedAmount.Div(e.ExpectedAmount).Float64()
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// Remaining is what still has to be funded.
func (e EscrowAccount) Remaining() decimal.Decimal {
	rem := e.ExpectedAmount.Sub(e.FundedAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

type EscrowAction string

const (
	EscrowActionRelease EscrowAction = "release"
	EscrowActionRefund  EscrowAction = "refund"
)

type EscrowApproval struct {
	NegotiationID string       `json:"negotiation_id"`
	Action        EscrowAction `json:"action"`
	PartyID       string       `json:"party_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

type ContractRevision struct {
	ID            string    `json:"id"`
	NegotiationID string    `json:"negotiation_id"`
	Version       int       `json:"version"`
	Body          string    `json:"body"`
	Summary       string    `json:"summary,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// CommentAnchor points into a revision's text: clause unit index, byte offset
// inside that unit and the quoted text the comment refers to.
type CommentAnchor struct {
	Clause int    `json:"clause"`
	Offset int    `json:"offset"`
	Quote  string `json:"quote,omitempty"`
}

type RevisionComment struct {
	ID         string        `json:"id"`
	RevisionID string        `json:"revision_id"`
	AuthorID   string        `json:"author_id"`
	Anchor     CommentAnchor `json:"anchor"`
	Body       string        `json:"body"`
	Resolved   bool          `json:"resolved"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type ContractSignature struct {
	NegotiationID string          `json:"negotiation_id"`
	ContractID    string          `json:"contract_id"`
	Role          ParticipantRole `json:"role"`
	ParticipantID string          `json:"participant_id"`
	SignedAt      time.Time       `json:"signed_at"`
}

// ContractIntentMetric is an append-only analytics row. NegotiationID and
// ContractID are weak references and survive negotiation deletion.
type ContractIntentMetric struct {
	ID              string                  `json:"id"`
	NegotiationID   string                  `json:"negotiation_id"`
	ContractID      string                  `json:"contract_id"`
	EventType       ContractIntentEventType `json:"event_type"`
	ParticipantRole ParticipantRole         `json:"participant_role,omitempty"`
	Metadata        map[string]any          `json:"metadata"`
	OccurredAt      time.Time               `json:"occurred_at"`
	RecordedAt      time.Time               `json:"recorded_at"`
}

type SchedulerJob struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

// NegotiationDomainEvent is published once per state machine transition.
type NegotiationDomainEvent struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	NegotiationID string            `json:"negotiation_id"`
	TriggeredBy   string            `json:"triggered_by"`
	Status        NegotiationStatus `json:"status"`
	Payload       map[string]any    `json:"payload,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Event is a row of the negotiation audit log.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	NegotiationID string `json:"negotiation_id"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

type MetricSnapshot struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	GeneratedAt time.Time `json:"generated_at"`
	Payload     string    `json:"payload_json"`
}
