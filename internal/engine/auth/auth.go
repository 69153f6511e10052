package auth

import (
	"fmt"

	"dealdesk/internal/domain"
)

// Viewer is the identity an operation runs as.
type Viewer struct {
	ID    string
	Admin bool
}

// System is the viewer used for provider-driven changes such as e-sign callbacks.
func System(id string) Viewer {
	return Viewer{ID: id, Admin: true}
}

// ForbiddenError indicates the viewer lacks standing on a negotiation.
type ForbiddenError struct {
	ViewerID      string
	NegotiationID string
	Action        string
}

func (e ForbiddenError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("viewer %s has no access to negotiation %s", e.ViewerID, e.NegotiationID)
	}
	return fmt.Sprintf("viewer %s may not %s negotiation %s", e.ViewerID, e.Action, e.NegotiationID)
}

func (e ForbiddenError) Unwrap() error { return domain.ErrForbidden }

// CanView is true for the buyer, the seller and admins.
func CanView(v Viewer, n domain.Negotiation) bool {
	return v.Admin || n.IsParty(v.ID)
}

// RequireParty allows only the buyer or the seller, never a bare admin.
func RequireParty(v Viewer, n domain.Negotiation, action string) error {
	if n.IsParty(v.ID) {
		return nil
	}
	return ForbiddenError{ViewerID: v.ID, NegotiationID: n.ID, Action: action}
}

// RequirePartyOrAdmin allows the buyer, the seller or an admin.
func RequirePartyOrAdmin(v Viewer, n domain.Negotiation, action string) error {
	if CanView(v, n) {
		return nil
	}
	return ForbiddenError{ViewerID: v.ID, NegotiationID: n.ID, Action: action}
}

// RequireBuyerOrAdmin allows the buyer or an admin.
func RequireBuyerOrAdmin(v Viewer, n domain.Negotiation, action string) error {
	if v.Admin || (v.ID != "" && v.ID == n.BuyerID) {
		return nil
	}
	return ForbiddenError{ViewerID: v.ID, NegotiationID: n.ID, Action: action}
}
