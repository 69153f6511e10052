package events_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dealdesk/internal/domain"
	"dealdesk/internal/events"
)

func TestSubject(t *testing.T) {
	cases := []struct{ prefix, typ, want string }{
		{"dealdesk.negotiation", "OFFER_COUNTERED", "dealdesk.negotiation.offer_countered"},
		{"dealdesk.negotiation.", "ESCROW_FUNDED", "dealdesk.negotiation.escrow_funded"},
		{"", "NEGOTIATION_CREATED", "negotiation_created"},
	}
	for _, c := range cases {
		if got := events.Subject(c.prefix, c.typ); got != c.want {
			t.Errorf("Subject(%q,%q) = %q, want %q", c.prefix, c.typ, got, c.want)
		}
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	rec := &events.Recorder{}
	var nats *events.NATSPublisher
	pub := events.Multi{events.LogPublisher{Log: zerolog.New(&buf)}, nil, rec, nats}

	evt := domain.NegotiationDomainEvent{
		ID:            "evt-1",
		Type:          "OFFER_ACCEPTED",
		NegotiationID: "neg-1",
		TriggeredBy:   "seller-1",
		Status:        domain.StatusAccepted,
		OccurredAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	pub.Publish(context.Background(), evt)

	if got := rec.Events(); len(got) != 1 || got[0].ID != "evt-1" {
		t.Fatalf("recorder got %+v", got)
	}
	if !strings.Contains(buf.String(), `"negotiation_id":"neg-1"`) {
		t.Fatalf("log line missing negotiation id: %s", buf.String())
	}
}
