package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dealdesk/internal/domain"
)

const negotiationColumns = `id,listing_id,buyer_id,seller_id,status,premium_tier,currency,version,created_by,created_at,updated_at`

func (r Repo) InsertNegotiation(ctx context.Context, tx *sql.Tx, n domain.Negotiation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO negotiations(`+negotiationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.ListingID, n.BuyerID, n.SellerID, n.Status, n.PremiumTier, n.Currency, n.Version, n.CreatedBy,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	return err
}

// GetNegotiation loads a negotiation with its offers, escrow and signatures.
func (r Repo) GetNegotiation(ctx context.Context, id string) (domain.Negotiation, error) {
	return getNegotiation(ctx, r.DB, id)
}

func (r Repo) GetNegotiationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Negotiation, error) {
	return getNegotiation(ctx, tx, id)
}

func getNegotiation(ctx context.Context, q queryer, id string) (domain.Negotiation, error) {
	var n domain.Negotiation
	var createdAt, updatedAt string
	err := q.QueryRowContext(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id=?`, id).
		Scan(&n.ID, &n.ListingID, &n.BuyerID, &n.SellerID, &n.Status, &n.PremiumTier, &n.Currency, &n.Version, &n.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return n, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return n, err
	}
	if n.Offers, err = listOffers(ctx, q, n.ID); err != nil {
		return n, err
	}
	esc, err := getEscrow(ctx, q, n.ID)
	switch {
	case err == nil:
		n.Escrow = &esc
	case !errors.Is(err, ErrNotFound):
		return n, err
	}
	if n.Signatures, err = listSignatures(ctx, q, n.ID); err != nil {
		return n, err
	}
	return n, nil
}

// UpdateNegotiationStatus moves the row to status only if it is still at
// expectedVersion, bumping the version. ErrVersionConflict otherwise.
func (r Repo) UpdateNegotiationStatus(ctx context.Context, tx *sql.Tx, id string, status domain.NegotiationStatus, expectedVersion int, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE negotiations SET status=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		status, formatTime(updatedAt), id, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// PremiumCreatedSince returns creation times of premium-tier negotiations.
func (r Repo) PremiumCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT created_at FROM negotiations WHERE premium_tier IN (?,?) AND created_at >= ? ORDER BY created_at`,
		domain.TierPremium, domain.TierPremiumSLA, formatTime(since))
	if err != nil {
		return nil, err
	}
	return scanTimes(rows)
}

type StaleEscrow struct {
	NegotiationID  string          `json:"negotiation_id"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	FundedAmount   decimal.Decimal `json:"funded_amount"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StaleEscrows lists accepted negotiations whose escrow has not moved since before.
func (r Repo) StaleEscrows(ctx context.Context, before time.Time) ([]StaleEscrow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT e.negotiation_id,e.expected_amount,e.funded_amount,e.updated_at
FROM escrow_accounts e JOIN negotiations n ON n.id=e.negotiation_id
WHERE n.status=? AND e.updated_at < ? ORDER BY e.updated_at`, domain.StatusAccepted, formatTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StaleEscrow
	for rows.Next() {
		var s StaleEscrow
		var updated string
		if err := rows.Scan(&s.NegotiationID, &s.ExpectedAmount, &s.FundedAmount, &updated); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanTimes(rows *sql.Rows) ([]time.Time, error) {
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := parseTime(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
