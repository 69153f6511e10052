package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealdesk/internal/domain"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/events"
)

const (
	EventNegotiationCreated   = "NEGOTIATION_CREATED"
	EventOfferCountered       = "OFFER_COUNTERED"
	EventOfferAccepted        = "OFFER_ACCEPTED"
	EventNegotiationCompleted = "NEGOTIATION_COMPLETED"
	EventNegotiationCancelled = "NEGOTIATION_CANCELLED"
	EventParticipantSigned    = "PARTICIPANT_SIGNED"
)

const (
	defaultCurrency = "USD"
	maxNoteLength   = 1000
)

// NegotiationCreateOptions are parameters for opening a negotiation.
type NegotiationCreateOptions struct {
	ID          string
	ListingID   string
	BuyerID     string
	SellerID    string
	PremiumTier string
	Currency    string
	Price       decimal.Decimal
	Quantity    int
	Note        string
	Viewer      auth.Viewer
}

// OfferOptions carry a counter-offer.
type OfferOptions struct {
	NegotiationID string
	Price         decimal.Decimal
	Quantity      int
	Note          string
	Viewer        auth.Viewer
}

func validateOfferTerms(price decimal.Decimal, quantity int, note string) error {
	if !price.IsPositive() {
		return domain.Errorf(domain.CodeValidationFailed, "price must be greater than zero")
	}
	if quantity < 1 {
		return domain.Errorf(domain.CodeValidationFailed, "quantity must be at least 1")
	}
	if len(note) > maxNoteLength {
		return domain.Errorf(domain.CodeValidationFailed, "note exceeds %d characters", maxNoteLength)
	}
	return nil
}

// CreateNegotiation opens a negotiation with the creator's initial offer.
func (e Engine) CreateNegotiation(ctx context.Context, opts NegotiationCreateOptions) (NegotiationView, error) {
	opts.ListingID = strings.TrimSpace(opts.ListingID)
	opts.BuyerID = strings.TrimSpace(opts.BuyerID)
	opts.SellerID = strings.TrimSpace(opts.SellerID)
	switch {
	case opts.ListingID == "":
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "listing_id is required")
	case opts.BuyerID == "" || opts.SellerID == "":
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "buyer_id and seller_id are required")
	case opts.BuyerID == opts.SellerID:
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "buyer and seller must differ")
	}
	if err := validateOfferTerms(opts.Price, opts.Quantity, opts.Note); err != nil {
		return NegotiationView{}, err
	}
	tier, err := domain.ParsePremiumTier(opts.PremiumTier)
	if err != nil {
		return NegotiationView{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "currency must be a 3-letter code")
	}
	if opts.Viewer.ID != opts.BuyerID && opts.Viewer.ID != opts.SellerID {
		return NegotiationView{}, auth.ForbiddenError{ViewerID: opts.Viewer.ID, Action: "create"}
	}

	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	now := e.now()
	n := domain.Negotiation{
		ID:          id,
		ListingID:   opts.ListingID,
		BuyerID:     opts.BuyerID,
		SellerID:    opts.SellerID,
		Status:      domain.StatusCreated,
		PremiumTier: tier,
		Currency:    currency,
		Version:     1,
		CreatedBy:   opts.Viewer.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	offer := domain.Offer{
		ID:            e.newID(),
		NegotiationID: id,
		Seq:           1,
		AuthorID:      opts.Viewer.ID,
		Price:         opts.Price,
		Quantity:      opts.Quantity,
		Note:          opts.Note,
		CreatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return NegotiationView{}, e.internal(err, id, "begin transaction")
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNegotiation(ctx, tx, n); err != nil {
		return NegotiationView{}, e.internal(err, id, "insert negotiation")
	}
	if err := e.Repo.InsertOffer(ctx, tx, offer); err != nil {
		return NegotiationView{}, e.internal(err, id, "insert offer")
	}
	payload := events.EventPayload{
		"to":           n.Status,
		"listing_id":   n.ListingID,
		"premium_tier": n.PremiumTier,
		"offer_id":     offer.ID,
		"price":        offer.Price.String(),
		"quantity":     offer.Quantity,
	}
	if err := e.Events.Append(ctx, tx, EventNegotiationCreated, id, opts.Viewer.ID, payload); err != nil {
		return NegotiationView{}, e.internal(err, id, "append audit event")
	}
	if err := tx.Commit(); err != nil {
		return NegotiationView{}, e.internal(err, id, "commit")
	}
	e.publish(ctx, &domain.NegotiationDomainEvent{
		ID:            e.newID(),
		Type:          EventNegotiationCreated,
		NegotiationID: id,
		TriggeredBy:   opts.Viewer.ID,
		Status:        n.Status,
		Payload:       payload,
		OccurredAt:    now,
	})
	e.Log.Info().Str("negotiation_id", id).Str("premium_tier", string(tier)).Msg("negotiation created")
	return e.view(ctx, id, opts.Viewer)
}

// CounterOffer appends a party's offer and moves to COUNTERED.
func (e Engine) CounterOffer(ctx context.Context, opts OfferOptions) (NegotiationView, error) {
	if err := validateOfferTerms(opts.Price, opts.Quantity, opts.Note); err != nil {
		return NegotiationView{}, err
	}
	return e.mutate(ctx, opts.NegotiationID, opts.Viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequireParty(opts.Viewer, *n, "counter"); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, domain.StatusCountered); err != nil {
			return mutation{}, err
		}
		offer := domain.Offer{
			ID:            e.newID(),
			NegotiationID: n.ID,
			Seq:           len(n.Offers) + 1,
			AuthorID:      opts.Viewer.ID,
			Price:         opts.Price,
			Quantity:      opts.Quantity,
			Note:          opts.Note,
			CreatedAt:     e.now(),
		}
		if err := e.Repo.InsertOffer(ctx, tx, offer); err != nil {
			return mutation{}, err
		}
		n.Offers = append(n.Offers, offer)
		return mutation{
			EventType: EventOfferCountered,
			To:        domain.StatusCountered,
			Payload: events.EventPayload{
				"offer_id": offer.ID,
				"seq":      offer.Seq,
				"price":    offer.Price.String(),
				"quantity": offer.Quantity,
			},
		}, nil
	})
}

// AcceptOffer accepts the other party's pending offer and opens escrow for
// its total.
func (e Engine) AcceptOffer(ctx context.Context, negotiationID string, viewer auth.Viewer) (NegotiationView, error) {
	return e.mutate(ctx, negotiationID, viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequireParty(viewer, *n, "accept"); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, domain.StatusAccepted); err != nil {
			return mutation{}, err
		}
		pending := n.PendingOffer()
		if pending == nil {
			return mutation{}, domain.Errorf(domain.CodeValidationFailed, "negotiation %s has no pending offer", n.ID)
		}
		if pending.AuthorID == viewer.ID {
			return mutation{}, domain.Errorf(domain.CodeValidationFailed, "cannot accept your own offer")
		}
		esc := domain.EscrowAccount{
			NegotiationID:  n.ID,
			ExpectedAmount: pending.Total(),
			FundedAmount:   decimal.Zero,
			UpdatedAt:      e.now(),
		}
		if err := e.Repo.InsertEscrow(ctx, tx, esc); err != nil {
			return mutation{}, err
		}
		return mutation{
			EventType: EventOfferAccepted,
			To:        domain.StatusAccepted,
			Payload: events.EventPayload{
				"offer_id":        pending.ID,
				"expected_amount": esc.ExpectedAmount.String(),
			},
		}, nil
	})
}

// CompleteNegotiation closes a negotiation whose escrow was released.
func (e Engine) CompleteNegotiation(ctx context.Context, negotiationID string, viewer auth.Viewer) (NegotiationView, error) {
	return e.mutate(ctx, negotiationID, viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequirePartyOrAdmin(viewer, *n, "complete"); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, domain.StatusCompleted); err != nil {
			return mutation{}, err
		}
		return mutation{EventType: EventNegotiationCompleted, To: domain.StatusCompleted}, nil
	})
}

// CancelNegotiation cancels before funds are released. Held funds are marked
// refunded in the same transaction.
func (e Engine) CancelNegotiation(ctx context.Context, negotiationID string, viewer auth.Viewer, reason string) (NegotiationView, error) {
	if len(reason) > maxNoteLength {
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "reason exceeds %d characters", maxNoteLength)
	}
	return e.mutate(ctx, negotiationID, viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequirePartyOrAdmin(viewer, *n, "cancel"); err != nil {
			return mutation{}, err
		}
		if err := ensureNegotiationTransition(n.Status, domain.StatusCancelled); err != nil {
			return mutation{}, err
		}
		payload := events.EventPayload{}
		if reason != "" {
			payload["reason"] = reason
		}
		if esc := n.Escrow; esc != nil && esc.ReleasedAt == nil && esc.RefundedAt == nil {
			if esc.FundedAmount.IsPositive() {
				if err := e.Repo.MarkEscrowRefunded(ctx, tx, n.ID, e.now()); err != nil {
					return mutation{}, err
				}
				payload["refunded_amount"] = esc.FundedAmount.String()
			}
			if err := e.Repo.ClearApprovals(ctx, tx, n.ID); err != nil {
				return mutation{}, err
			}
		}
		return mutation{EventType: EventNegotiationCancelled, To: domain.StatusCancelled, Payload: payload}, nil
	})
}

// ParticipantSignedOptions describe a completed signature reported by the
// e-sign provider.
type ParticipantSignedOptions struct {
	NegotiationID string
	ContractID    string
	ParticipantID string
	Role          domain.ParticipantRole
	SignedAt      time.Time
	Viewer        auth.Viewer
}

// ParticipantSignedTx records a signature inside the caller's transaction.
// The returned event must be published by the caller after commit; it is nil
// when the role had already signed.
func (e Engine) ParticipantSignedTx(ctx context.Context, tx *sql.Tx, opts ParticipantSignedOptions) (*domain.NegotiationDomainEvent, error) {
	n, err := e.loadWithAccessTx(ctx, tx, opts.NegotiationID, opts.Viewer)
	if err != nil {
		return nil, err
	}
	m, err := e.participantSigned(ctx, tx, &n, opts)
	if err != nil {
		return nil, e.translate(err, opts.NegotiationID)
	}
	return e.applyTx(ctx, tx, &n, opts.Viewer, m)
}

// ParticipantSigned is ParticipantSignedTx in its own transaction.
func (e Engine) ParticipantSigned(ctx context.Context, opts ParticipantSignedOptions) (NegotiationView, error) {
	return e.mutate(ctx, opts.NegotiationID, opts.Viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		return e.participantSigned(ctx, tx, n, opts)
	})
}

// Publish hands an event returned by a Tx operation to the publisher.
func (e Engine) Publish(ctx context.Context, evt *domain.NegotiationDomainEvent) {
	e.publish(ctx, evt)
}

func (e Engine) participantSigned(ctx context.Context, tx *sql.Tx, n *domain.Negotiation, opts ParticipantSignedOptions) (mutation, error) {
	if opts.ContractID == "" || opts.ParticipantID == "" || opts.Role == "" {
		return mutation{}, domain.Errorf(domain.CodeValidationFailed, "contract, participant and role are required")
	}
	if err := ensureSignable(n.Status); err != nil {
		return mutation{}, err
	}
	signedAt := opts.SignedAt
	if signedAt.IsZero() {
		signedAt = e.now()
	}
	sig := domain.ContractSignature{
		NegotiationID: n.ID,
		ContractID:    opts.ContractID,
		Role:          opts.Role,
		ParticipantID: opts.ParticipantID,
		SignedAt:      signedAt.UTC(),
	}
	inserted, err := e.Repo.InsertSignature(ctx, tx, sig)
	if err != nil {
		return mutation{}, err
	}
	if !inserted {
		return mutation{Skip: true}, nil
	}
	n.Signatures = append(n.Signatures, sig)
	return mutation{
		EventType: EventParticipantSigned,
		Payload: events.EventPayload{
			"contract_id":    opts.ContractID,
			"participant_id": opts.ParticipantID,
			"role":           opts.Role,
		},
	}, nil
}
