package repo

import (
	"context"
	"database/sql"

	"dealdesk/internal/domain"
)

// InsertOffer appends an offer; Seq must be the next ordinal for the negotiation.
func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offers(id,negotiation_id,seq,author_id,price,quantity,note,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		o.ID, o.NegotiationID, o.Seq, o.AuthorID, o.Price.String(), o.Quantity, nullable(o.Note), formatTime(o.CreatedAt))
	return err
}

func listOffers(ctx context.Context, q queryer, negotiationID string) ([]domain.Offer, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,negotiation_id,seq,author_id,price,quantity,note,created_at FROM offers WHERE negotiation_id=? ORDER BY seq`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		var o domain.Offer
		var note sql.NullString
		var created string
		if err := rows.Scan(&o.ID, &o.NegotiationID, &o.Seq, &o.AuthorID, &o.Price, &o.Quantity, &note, &created); err != nil {
			return nil, err
		}
		o.Note = note.String
		if o.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
