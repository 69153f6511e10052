package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dealdesk/internal/domain"
)

func (r Repo) InsertEscrow(ctx context.Context, tx *sql.Tx, e domain.EscrowAccount) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escrow_accounts(negotiation_id,expected_amount,funded_amount,released_at,refunded_at,updated_at) VALUES (?,?,?,?,?,?)`,
		e.NegotiationID, e.ExpectedAmount.String(), e.FundedAmount.String(), nullableTime(e.ReleasedAt), nullableTime(e.RefundedAt), formatTime(e.UpdatedAt))
	return err
}

func getEscrow(ctx context.Context, q queryer, negotiationID string) (domain.EscrowAccount, error) {
	var e domain.EscrowAccount
	var released, refunded sql.NullString
	var updated string
	err := q.QueryRowContext(ctx, `SELECT negotiation_id,expected_amount,funded_amount,released_at,refunded_at,updated_at FROM escrow_accounts WHERE negotiation_id=?`, negotiationID).
		Scan(&e.NegotiationID, &e.ExpectedAmount, &e.FundedAmount, &released, &refunded, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if e.ReleasedAt, err = parseNullTime(released); err != nil {
		return e, err
	}
	if e.RefundedAt, err = parseNullTime(refunded); err != nil {
		return e, err
	}
	e.UpdatedAt, err = parseTime(updated)
	return e, err
}

func (r Repo) SetEscrowFunded(ctx context.Context, tx *sql.Tx, negotiationID string, funded decimal.Decimal, at time.Time) error {
	return execOne(ctx, tx, `UPDATE escrow_accounts SET funded_amount=?, updated_at=? WHERE negotiation_id=?`, funded.String(), formatTime(at), negotiationID)
}

func (r Repo) MarkEscrowReleased(ctx context.Context, tx *sql.Tx, negotiationID string, at time.Time) error {
	ts := formatTime(at)
	return execOne(ctx, tx, `UPDATE escrow_accounts SET released_at=?, updated_at=? WHERE negotiation_id=? AND released_at IS NULL AND refunded_at IS NULL`, ts, ts, negotiationID)
}

func (r Repo) MarkEscrowRefunded(ctx context.Context, tx *sql.Tx, negotiationID string, at time.Time) error {
	ts := formatTime(at)
	return execOne(ctx, tx, `UPDATE escrow_accounts SET refunded_at=?, updated_at=? WHERE negotiation_id=? AND released_at IS NULL AND refunded_at IS NULL`, ts, ts, negotiationID)
}

// AddApproval records a party's approval; repeating it is a no-op.
func (r Repo) AddApproval(ctx context.Context, tx *sql.Tx, a domain.EscrowApproval) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO escrow_approvals(negotiation_id,action,party_id,created_at) VALUES (?,?,?,?)`,
		a.NegotiationID, a.Action, a.PartyID, formatTime(a.CreatedAt))
	return err
}

// ListApprovals groups approving party ids by action.
func (r Repo) ListApprovals(ctx context.Context, negotiationID string) (map[domain.EscrowAction][]string, error) {
	return listApprovals(ctx, r.DB, negotiationID)
}

func (r Repo) ListApprovalsTx(ctx context.Context, tx *sql.Tx, negotiationID string) (map[domain.EscrowAction][]string, error) {
	return listApprovals(ctx, tx, negotiationID)
}

func listApprovals(ctx context.Context, q queryer, negotiationID string) (map[domain.EscrowAction][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT action,party_id FROM escrow_approvals WHERE negotiation_id=? ORDER BY created_at, party_id`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.EscrowAction][]string{}
	for rows.Next() {
		var action domain.EscrowAction
		var party string
		if err := rows.Scan(&action, &party); err != nil {
			return nil, err
		}
		out[action] = append(out[action], party)
	}
	return out, rows.Err()
}

func (r Repo) ClearApprovals(ctx context.Context, tx *sql.Tx, negotiationID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM escrow_approvals WHERE negotiation_id=?`, negotiationID)
	return err
}

func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
