package repo

import (
	"context"
	"database/sql"
	"time"
)

type WebhookDelivery struct {
	Key           string
	NegotiationID string
	ContractID    string
	ParticipantID string
	Status        string
	ReceivedAt    time.Time
}

// ReserveDelivery claims the delivery key inside tx. It reports false when
// the key was already claimed by a committed delivery.
func (r Repo) ReserveDelivery(ctx context.Context, tx *sql.Tx, d WebhookDelivery) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO webhook_deliveries(delivery_key,negotiation_id,contract_id,participant_id,status,received_at) VALUES (?,?,?,?,?,?)`,
		d.Key, d.NegotiationID, d.ContractID, d.ParticipantID, d.Status, formatTime(d.ReceivedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
