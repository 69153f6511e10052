package repo

import (
	"context"
	"database/sql"
	"time"

	"dealdesk/internal/domain"
)

// InsertIntentMetric appends one analytics row. Rows are never updated.
func (r Repo) InsertIntentMetric(ctx context.Context, tx *sql.Tx, m domain.ContractIntentMetric) error {
	meta, err := marshalJSON(m.Metadata)
	if err != nil {
		return err
	}
	q := queryer(r.DB)
	if tx != nil {
		q = tx
	}
	_, err = q.ExecContext(ctx, `INSERT INTO contract_intent_metrics(id,negotiation_id,contract_id,event_type,participant_role,metadata_json,occurred_at,recorded_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.NegotiationID, m.ContractID, m.EventType, nullable(string(m.ParticipantRole)), meta, formatTime(m.OccurredAt), formatTime(m.RecordedAt))
	return err
}

type IntentMetricFilters struct {
	NegotiationID string
	ContractID    string
	EventType     domain.ContractIntentEventType
}

func (r Repo) ListIntentMetrics(ctx context.Context, f IntentMetricFilters) ([]domain.ContractIntentMetric, error) {
	query := `SELECT id,negotiation_id,contract_id,event_type,participant_role,metadata_json,occurred_at,recorded_at FROM contract_intent_metrics WHERE 1=1`
	var args []any
	if f.NegotiationID != "" {
		query += ` AND negotiation_id=?`
		args = append(args, f.NegotiationID)
	}
	if f.ContractID != "" {
		query += ` AND contract_id=?`
		args = append(args, f.ContractID)
	}
	if f.EventType != "" {
		query += ` AND event_type=?`
		args = append(args, f.EventType)
	}
	query += ` ORDER BY occurred_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContractIntentMetric
	for rows.Next() {
		var m domain.ContractIntentMetric
		var role, meta sql.NullString
		var occurred, recorded string
		if err := rows.Scan(&m.ID, &m.NegotiationID, &m.ContractID, &m.EventType, &role, &meta, &occurred, &recorded); err != nil {
			return nil, err
		}
		m.ParticipantRole = domain.ParticipantRole(role.String)
		if m.Metadata, err = unmarshalJSON(meta); err != nil {
			return nil, err
		}
		if m.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, err
		}
		if m.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IntentTimesSince returns occurred_at of every eventType row at or after since.
func (r Repo) IntentTimesSince(ctx context.Context, eventType domain.ContractIntentEventType, since time.Time) ([]time.Time, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT occurred_at FROM contract_intent_metrics WHERE event_type=? AND occurred_at >= ? ORDER BY occurred_at`, eventType, formatTime(since))
	if err != nil {
		return nil, err
	}
	return scanTimes(rows)
}

func (r Repo) InsertSnapshot(ctx context.Context, s domain.MetricSnapshot) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO metric_snapshots(name,generated_at,payload_json) VALUES (?,?,?)`, s.Name, formatTime(s.GeneratedAt), s.Payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) LatestSnapshot(ctx context.Context, name string) (domain.MetricSnapshot, error) {
	var s domain.MetricSnapshot
	var generated string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,generated_at,payload_json FROM metric_snapshots WHERE name=? ORDER BY id DESC LIMIT 1`, name).
		Scan(&s.ID, &s.Name, &generated, &s.Payload)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.GeneratedAt, err = parseTime(generated)
	return s, err
}
