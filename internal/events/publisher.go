package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"dealdesk/internal/domain"
)

// Publisher receives one event per committed negotiation transition.
// Implementations must not block the caller and never report failure.
type Publisher interface {
	Publish(ctx context.Context, evt domain.NegotiationDomainEvent)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt domain.NegotiationDomainEvent) {
	p.Log.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("negotiation_id", evt.NegotiationID).
		Str("triggered_by", evt.TriggeredBy).
		Str("status", string(evt.Status)).
		Time("occurred_at", evt.OccurredAt).
		Msg("negotiation event")
}

// NATSPublisher publishes events as JSON on <prefix>.<type>.
// All failures are logged and dropped.
type NATSPublisher struct {
	Conn   *nats.Conn
	Prefix string
	Log    zerolog.Logger
}

// ConnectNATS dials url and returns a publisher using prefix for subjects.
func ConnectNATS(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("dealdesk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{Conn: nc, Prefix: prefix, Log: log}, nil
}

// Subject builds the NATS subject for an event type.
func Subject(prefix, evtType string) string {
	t := strings.ToLower(strings.TrimSpace(evtType))
	if prefix == "" {
		return t
	}
	return strings.TrimSuffix(prefix, ".") + "." + t
}

func (p *NATSPublisher) Publish(_ context.Context, evt domain.NegotiationDomainEvent) {
	if p == nil || p.Conn == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.Log.Warn().Err(err).Str("event_type", evt.Type).Msg("nats: failed to marshal event")
		return
	}
	subject := Subject(p.Prefix, evt.Type)
	if err := p.Conn.Publish(subject, data); err != nil {
		p.Log.Warn().Err(err).
			Str("subject", subject).
			Str("negotiation_id", evt.NegotiationID).
			Msg("nats: failed to publish event (non-fatal)")
		return
	}
	p.Log.Debug().Str("subject", subject).Str("negotiation_id", evt.NegotiationID).Msg("nats: event published")
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.Conn == nil {
		return nil
	}
	return p.Conn.Drain()
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt domain.NegotiationDomainEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, evt)
		}
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.NegotiationDomainEvent
}

func (r *Recorder) Publish(_ context.Context, evt domain.NegotiationDomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of what has been published so far.
func (r *Recorder) Events() []domain.NegotiationDomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NegotiationDomainEvent, len(r.events))
	copy(out, r.events)
	return out
}
