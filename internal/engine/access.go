package engine

import (
	"context"
	"database/sql"
	"errors"

	"dealdesk/internal/domain"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/repo"
)

// NegotiationView is a negotiation as seen by one viewer, with derived fields.
type NegotiationView struct {
	domain.Negotiation
	FundedRatio      float64                          `json:"funded_ratio"`
	ViewerRole       domain.ParticipantRole           `json:"viewer_role,omitempty"`
	PendingApprovals map[domain.EscrowAction][]string `json:"pending_approvals,omitempty"`
}

// GetNegotiationWithAccess loads a negotiation for viewer. NOT_FOUND when it
// does not exist, FORBIDDEN unless the viewer is the buyer, the seller or an admin.
func (e Engine) GetNegotiationWithAccess(ctx context.Context, id string, viewer auth.Viewer) (NegotiationView, error) {
	if id == "" {
		return NegotiationView{}, domain.Errorf(domain.CodeValidationFailed, "negotiation id is required")
	}
	return e.view(ctx, id, viewer)
}

func (e Engine) view(ctx context.Context, id string, viewer auth.Viewer) (NegotiationView, error) {
	n, err := e.Repo.GetNegotiation(ctx, id)
	if err != nil {
		return NegotiationView{}, e.translate(err, id)
	}
	if err := checkAccess(n, viewer); err != nil {
		return NegotiationView{}, err
	}
	approvals, err := e.Repo.ListApprovals(ctx, id)
	if err != nil {
		return NegotiationView{}, e.translate(err, id)
	}
	return buildView(n, viewer, approvals), nil
}

// loadWithAccessTx is the in-transaction form of the access resolver used by
// every mutating operation.
func (e Engine) loadWithAccessTx(ctx context.Context, tx *sql.Tx, id string, viewer auth.Viewer) (domain.Negotiation, error) {
	if id == "" {
		return domain.Negotiation{}, domain.Errorf(domain.CodeValidationFailed, "negotiation id is required")
	}
	n, err := e.Repo.GetNegotiationTx(ctx, tx, id)
	if err != nil {
		return n, e.translate(err, id)
	}
	if err := checkAccess(n, viewer); err != nil {
		return n, err
	}
	return n, nil
}

func checkAccess(n domain.Negotiation, viewer auth.Viewer) error {
	return auth.RequirePartyOrAdmin(viewer, n, "view")
}

func buildView(n domain.Negotiation, viewer auth.Viewer, approvals map[domain.EscrowAction][]string) NegotiationView {
	v := NegotiationView{Negotiation: n, ViewerRole: n.RoleOf(viewer.ID)}
	if v.ViewerRole == "" && viewer.Admin {
		v.ViewerRole = domain.RoleAdmin
	}
	if n.Escrow != nil {
		v.FundedRatio = n.Escrow.FundedRatio()
	}
	if len(approvals) > 0 {
		v.PendingApprovals = approvals
	}
	return v
}

// IsNotFound reports whether err is the taxonomy's NOT_FOUND.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, repo.ErrNotFound)
}
