package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealdesk/internal/config"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/events"
	"dealdesk/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Config    *config.Config
	Log       zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

func New(db *sql.DB, cfg *config.Config, pub events.Publisher, log zerolog.Logger) Engine {
	if pub == nil {
		pub = events.LogPublisher{Log: log}
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Publisher: pub,
		Config:    cfg,
		Log:       log,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// mutation describes what an operation did to a loaded negotiation. An empty
// To keeps the current status; the version is bumped either way.
type mutation struct {
	EventType string
	To        domain.NegotiationStatus
	Payload   events.EventPayload
	// Skip leaves the negotiation untouched: no version bump, no event.
	Skip bool
}

// mutate runs fn against the negotiation inside one write transaction. The
// access resolver gates the load; fn checks the transition and performs its
// own writes; mutate then applies the conditional status update, appends the
// audit row, commits, and publishes the domain event.
func (e Engine) mutate(ctx context.Context, id string, viewer auth.Viewer, fn func(tx *sql.Tx, n *domain.Negotiation) (mutation, error)) (NegotiationView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return NegotiationView{}, e.internal(err, id, "begin transaction")
	}
	defer tx.Rollback()

	n, err := e.loadWithAccessTx(ctx, tx, id, viewer)
	if err != nil {
		return NegotiationView{}, err
	}
	m, err := fn(tx, &n)
	if err != nil {
		return NegotiationView{}, e.translate(err, id)
	}
	evt, err := e.applyTx(ctx, tx, &n, viewer, m)
	if err != nil {
		return NegotiationView{}, err
	}
	if err := tx.Commit(); err != nil {
		return NegotiationView{}, e.internal(err, id, "commit")
	}
	e.publish(ctx, evt)
	return e.view(ctx, id, viewer)
}

// applyTx writes the status/version change and the audit row for m.
func (e Engine) applyTx(ctx context.Context, tx *sql.Tx, n *domain.Negotiation, viewer auth.Viewer, m mutation) (*domain.NegotiationDomainEvent, error) {
	if m.Skip {
		return nil, nil
	}
	to := m.To
	if to == "" {
		to = n.Status
	}
	now := e.now()
	if err := e.Repo.UpdateNegotiationStatus(ctx, tx, n.ID, to, n.Version, now); err != nil {
		return nil, e.translate(err, n.ID)
	}
	from := n.Status
	n.Status = to
	n.Version++
	n.UpdatedAt = now

	payload := events.EventPayload{"from": from, "to": to, "version": n.Version}
	for k, v := range m.Payload {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, m.EventType, n.ID, viewer.ID, payload); err != nil {
		return nil, e.internal(err, n.ID, "append audit event")
	}
	return &domain.NegotiationDomainEvent{
		ID:            e.newID(),
		Type:          m.EventType,
		NegotiationID: n.ID,
		TriggeredBy:   viewer.ID,
		Status:        to,
		Payload:       map[string]any(payload),
		OccurredAt:    now,
	}, nil
}

func (e Engine) publish(ctx context.Context, evt *domain.NegotiationDomainEvent) {
	if evt == nil || e.Publisher == nil {
		return
	}
	e.Publisher.Publish(ctx, *evt)
}

// translate maps persistence sentinels onto the error taxonomy and wraps
// anything unknown as an internal failure.
func (e Engine) translate(err error, negotiationID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrVersionConflict):
		return domain.Errorf(domain.CodeConflict, "negotiation %s was modified concurrently", negotiationID)
	case errors.Is(err, repo.ErrNotFound):
		return domain.Errorf(domain.CodeNotFound, "negotiation %s not found", negotiationID)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return e.internal(err, negotiationID, "negotiation operation")
}

func (e Engine) internal(err error, negotiationID, op string) error {
	e.Log.Error().Err(err).Str("negotiation_id", negotiationID).Str("op", op).Msg("persistence failure")
	return domain.Wrap(domain.CodeInternal, err, op+" failed")
}
