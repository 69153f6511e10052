package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dealdesk/internal/domain"
)

// Writer appends rows to the negotiation audit log inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, negotiationID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO negotiation_events(ts,type,negotiation_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, negotiationID, actorID, string(data))
	return err
}

// List returns the audit log of a negotiation, oldest first.
func (w Writer) List(ctx context.Context, negotiationID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,negotiation_id,actor_id,payload_json FROM negotiation_events WHERE negotiation_id=? ORDER BY id LIMIT ?`, negotiationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.NegotiationID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
