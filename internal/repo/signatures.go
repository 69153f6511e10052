package repo

import (
	"context"
	"database/sql"

	"dealdesk/internal/domain"
)

// InsertSignature stores a signature once per (negotiation, contract, role).
// It reports false when that role had already signed.
func (r Repo) InsertSignature(ctx context.Context, tx *sql.Tx, s domain.ContractSignature) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO contract_signatures(negotiation_id,contract_id,role,participant_id,signed_at) VALUES (?,?,?,?,?)`,
		s.NegotiationID, s.ContractID, s.Role, s.ParticipantID, formatTime(s.SignedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func listSignatures(ctx context.Context, q queryer, negotiationID string) ([]domain.ContractSignature, error) {
	rows, err := q.QueryContext(ctx, `SELECT negotiation_id,contract_id,role,participant_id,signed_at FROM contract_signatures WHERE negotiation_id=? ORDER BY signed_at, role`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContractSignature
	for rows.Next() {
		var s domain.ContractSignature
		var signed string
		if err := rows.Scan(&s.NegotiationID, &s.ContractID, &s.Role, &s.ParticipantID, &signed); err != nil {
			return nil, err
		}
		if s.SignedAt, err = parseTime(signed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
