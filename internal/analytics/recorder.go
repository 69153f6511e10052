// Package analytics appends contract intent events to the analytics log.
// It never deduplicates; callers that receive retried input must guard
// against repeats themselves.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"dealdesk/internal/domain"
	"dealdesk/internal/repo"
)

type Recorder struct {
	Repo     repo.Repo
	Now      func() time.Time
	NewID    func() string
	validate *validator.Validate
}

func New(r repo.Repo) *Recorder {
	return &Recorder{
		Repo:     r,
		Now:      time.Now,
		NewID:    uuid.NewString,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type IntentInput struct {
	NegotiationID   string         `validate:"required"`
	ContractID      string         `validate:"required"`
	EventType       string         `validate:"required"`
	ParticipantRole string         `validate:"omitempty"`
	Metadata        map[string]any `validate:"-"`
	// OccurredAt is an optional RFC 3339 timestamp; empty means now.
	OccurredAt string `validate:"omitempty"`
}

type SignatureInput struct {
	NegotiationID   string         `validate:"required"`
	ContractID      string         `validate:"required"`
	ParticipantRole string         `validate:"required"`
	SignedAt        string         `validate:"required"`
	Metadata        map[string]any `validate:"-"`
}

// RecordContractIntentEvent validates in and appends exactly one row.
func (r *Recorder) RecordContractIntentEvent(ctx context.Context, in IntentInput) (domain.ContractIntentMetric, error) {
	return r.RecordContractIntentEventTx(ctx, nil, in)
}

// RecordContractIntentEventTx appends within tx, or directly when tx is nil.
func (r *Recorder) RecordContractIntentEventTx(ctx context.Context, tx *sql.Tx, in IntentInput) (domain.ContractIntentMetric, error) {
	m, err := r.build(in)
	if err != nil {
		return domain.ContractIntentMetric{}, err
	}
	if err := r.Repo.InsertIntentMetric(ctx, tx, m); err != nil {
		return domain.ContractIntentMetric{}, err
	}
	return m, nil
}

// RecordParticipantSignatureEvent records PARTICIPANT_SIGNED for a role at signedAt.
func (r *Recorder) RecordParticipantSignatureEvent(ctx context.Context, in SignatureInput) (domain.ContractIntentMetric, error) {
	return r.RecordParticipantSignatureEventTx(ctx, nil, in)
}

func (r *Recorder) RecordParticipantSignatureEventTx(ctx context.Context, tx *sql.Tx, in SignatureInput) (domain.ContractIntentMetric, error) {
	if err := r.validator().Struct(in); err != nil {
		return domain.ContractIntentMetric{}, validationError(err)
	}
	return r.RecordContractIntentEventTx(ctx, tx, IntentInput{
		NegotiationID:   in.NegotiationID,
		ContractID:      in.ContractID,
		EventType:       string(domain.IntentParticipantSigned),
		ParticipantRole: in.ParticipantRole,
		Metadata:        in.Metadata,
		OccurredAt:      in.SignedAt,
	})
}

func (r *Recorder) build(in IntentInput) (domain.ContractIntentMetric, error) {
	if err := r.validator().Struct(in); err != nil {
		return domain.ContractIntentMetric{}, validationError(err)
	}
	evtType, err := domain.ParseContractIntentEventType(in.EventType)
	if err != nil {
		return domain.ContractIntentMetric{}, err
	}
	var role domain.ParticipantRole
	if strings.TrimSpace(in.ParticipantRole) != "" {
		if role, err = domain.ParseParticipantRole(in.ParticipantRole); err != nil {
			return domain.ContractIntentMetric{}, err
		}
	}
	now := r.now()
	occurred := now
	if s := strings.TrimSpace(in.OccurredAt); s != "" {
		occurred, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return domain.ContractIntentMetric{}, domain.Errorf(domain.CodeValidationFailed, "occurredAt %q is not an RFC 3339 timestamp", in.OccurredAt)
		}
	}
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return domain.ContractIntentMetric{
		ID:              newID(),
		NegotiationID:   in.NegotiationID,
		ContractID:      in.ContractID,
		EventType:       evtType,
		ParticipantRole: role,
		Metadata:        in.Metadata,
		OccurredAt:      occurred.UTC(),
		RecordedAt:      now.UTC(),
	}, nil
}

func (r *Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Recorder) validator() *validator.Validate {
	if r.validate == nil {
		r.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return r.validate
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return domain.Errorf(domain.CodeValidationFailed, "missing required fields: %s", strings.Join(fields, ", ")).
			WithDetails(map[string]any{"fields": fields})
	}
	return domain.Wrap(domain.CodeValidationFailed, err, "invalid input")
}
