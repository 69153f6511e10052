// Package esign processes status callbacks from the e-signature provider.
//
// A delivery is identified by (negotiation, contract, participant, outcome).
// The delivery key is claimed in the same transaction that records the
// analytics row and applies the signature, so a redelivered callback either
// finds the key taken and does nothing, or nothing from its first attempt was
// committed.
package esign

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealdesk/internal/analytics"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/repo"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// systemActor is the identity provider-driven changes are attributed to.
const systemActor = "system:esign"

var deliveryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dealdesk/esign-delivery"))

type Participant struct {
	ID   string `json:"id" validate:"required"`
	Role string `json:"role" validate:"required"`
}

// Payload is the provider callback after boundary validation.
type Payload struct {
	NegotiationID string       `json:"negotiationId" validate:"required"`
	ContractID    string       `json:"contractId" validate:"required"`
	Participant   *Participant `json:"participant" validate:"required"`
	Status        string       `json:"status" validate:"required"`
	OccurredAt    string       `json:"occurredAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// normalize trims identifiers so blank values fail the required checks.
func (p *Payload) normalize() {
	p.NegotiationID = strings.TrimSpace(p.NegotiationID)
	p.ContractID = strings.TrimSpace(p.ContractID)
	p.Status = strings.TrimSpace(p.Status)
	p.OccurredAt = strings.TrimSpace(p.OccurredAt)
	if p.Participant != nil {
		p.Participant.ID = strings.TrimSpace(p.Participant.ID)
		p.Participant.Role = strings.TrimSpace(p.Participant.Role)
	}
}

type Result struct {
	OK         bool                           `json:"ok"`
	Duplicate  bool                           `json:"duplicate,omitempty"`
	DeliveryID string                         `json:"delivery_id,omitempty"`
	EventType  domain.ContractIntentEventType `json:"event_type,omitempty"`
}

type Handler struct {
	Engine   engine.Engine
	Recorder *analytics.Recorder
	// Secret enables signature verification when non-empty.
	Secret string
	Log    zerolog.Logger
	Now    func() time.Time

	validate *validator.Validate
}

func NewHandler(eng engine.Engine, rec *analytics.Recorder, secret string, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:   eng,
		Recorder: rec,
		Secret:   secret,
		Log:      log,
		Now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MapStatus maps a provider status onto the intent event it represents.
func MapStatus(status string) (domain.ContractIntentEventType, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sent", "issued", "created":
		return domain.IntentEnvelopeIssued, true
	case "delivered", "viewed":
		return domain.IntentParticipantViewed, true
	case "signed", "completed":
		return domain.IntentParticipantSigned, true
	case "declined", "rejected":
		return domain.IntentParticipantDeclined, true
	}
	return "", false
}

// DeliveryKey derives the idempotency key of a delivery.
func DeliveryKey(negotiationID, contractID, participantID string, outcome domain.ContractIntentEventType) string {
	name := strings.Join([]string{negotiationID, contractID, participantID, string(outcome)}, "\x00")
	return uuid.NewSHA1(deliveryNamespace, []byte(name)).String()
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verify(raw []byte, signature string) error {
	if h.Secret == "" {
		return nil
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return domain.Errorf(domain.CodeInvalidWebhook, "missing or malformed %s header", SignatureHeader)
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	_, _ = mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return domain.Errorf(domain.CodeInvalidWebhook, "signature mismatch")
	}
	return nil
}

// Parse decodes and validates a raw callback body.
func (h *Handler) Parse(raw []byte) (Payload, domain.ContractIntentEventType, domain.ParticipantRole, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return p, "", "", domain.Errorf(domain.CodeInvalidWebhook, "payload is not a JSON object: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return p, "", "", domain.Errorf(domain.CodeInvalidWebhook, "unexpected data after JSON payload")
	}
	p.normalize()
	if err := h.validator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Namespace())
			}
			return p, "", "", domain.Errorf(domain.CodeInvalidWebhook, "payload failed validation").
				WithDetails(map[string]any{"fields": missing})
		}
		return p, "", "", domain.Wrap(domain.CodeInvalidWebhook, err, "payload failed validation")
	}
	outcome, ok := MapStatus(p.Status)
	if !ok {
		return p, "", "", domain.Errorf(domain.CodeInvalidWebhook, "unsupported status %q", p.Status)
	}
	role, err := domain.ParseParticipantRole(p.Participant.Role)
	if err != nil {
		return p, "", "", domain.Errorf(domain.CodeInvalidWebhook, "unsupported participant role %q", p.Participant.Role)
	}
	return p, outcome, role, nil
}

// Handle verifies, validates and applies one callback. Invalid input fails
// with INVALID_WEBHOOK before anything is written; any later failure rolls
// back and surfaces as WEBHOOK_PROCESSING_FAILED so the provider retries.
func (h *Handler) Handle(ctx context.Context, raw []byte, signature string) (Result, error) {
	if err := h.verify(raw, signature); err != nil {
		return Result{}, err
	}
	p, outcome, role, err := h.Parse(raw)
	if err != nil {
		return Result{}, err
	}
	key := DeliveryKey(p.NegotiationID, p.ContractID, p.Participant.ID, outcome)
	log := h.Log.With().
		Str("negotiation_id", p.NegotiationID).
		Str("contract_id", p.ContractID).
		Str("participant_id", p.Participant.ID).
		Str("delivery_id", key).
		Logger()

	tx, err := h.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, h.failed(log, err, "begin transaction")
	}
	defer tx.Rollback()

	reserved, err := h.Engine.Repo.ReserveDelivery(ctx, tx, repo.WebhookDelivery{
		Key:           key,
		NegotiationID: p.NegotiationID,
		ContractID:    p.ContractID,
		ParticipantID: p.Participant.ID,
		Status:        string(outcome),
		ReceivedAt:    h.now(),
	})
	if err != nil {
		return Result{}, h.failed(log, err, "reserve delivery")
	}
	if !reserved {
		log.Info().Str("event_type", string(outcome)).Msg("esign: duplicate delivery ignored")
		return Result{OK: true, Duplicate: true, DeliveryID: key, EventType: outcome}, nil
	}

	evt, err := h.apply(ctx, tx, p, outcome, role)
	if err != nil {
		return Result{}, h.failed(log, err, "apply delivery")
	}
	if err := tx.Commit(); err != nil {
		return Result{}, h.failed(log, err, "commit")
	}
	h.Engine.Publish(ctx, evt)
	log.Info().Str("event_type", string(outcome)).Msg("esign: delivery processed")
	return Result{OK: true, DeliveryID: key, EventType: outcome}, nil
}

func (h *Handler) apply(ctx context.Context, tx *sql.Tx, p Payload, outcome domain.ContractIntentEventType, role domain.ParticipantRole) (*domain.NegotiationDomainEvent, error) {
	meta := map[string]any{"participant_id": p.Participant.ID, "provider_status": p.Status}
	if outcome != domain.IntentParticipantSigned {
		_, err := h.Recorder.RecordContractIntentEventTx(ctx, tx, analytics.IntentInput{
			NegotiationID:   p.NegotiationID,
			ContractID:      p.ContractID,
			EventType:       string(outcome),
			ParticipantRole: string(role),
			Metadata:        meta,
			OccurredAt:      p.OccurredAt,
		})
		return nil, err
	}

	signedAt := h.now()
	if p.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
		if err != nil {
			return nil, err
		}
		signedAt = t.UTC()
	}
	if _, err := h.Recorder.RecordParticipantSignatureEventTx(ctx, tx, analytics.SignatureInput{
		NegotiationID:   p.NegotiationID,
		ContractID:      p.ContractID,
		ParticipantRole: string(role),
		SignedAt:        signedAt.Format(time.RFC3339Nano),
		Metadata:        meta,
	}); err != nil {
		return nil, err
	}
	return h.Engine.ParticipantSignedTx(ctx, tx, engine.ParticipantSignedOptions{
		NegotiationID: p.NegotiationID,
		ContractID:    p.ContractID,
		ParticipantID: p.Participant.ID,
		Role:          role,
		SignedAt:      signedAt,
		Viewer:        auth.System(systemActor),
	})
}

func (h *Handler) failed(log zerolog.Logger, err error, op string) error {
	log.Error().Err(err).Str("op", op).Msg("esign: processing failed")
	return &domain.Error{
		Code:    domain.CodeWebhookProcessingFailed,
		Message: "webhook processing failed: " + op,
		Details: map[string]any{"cause": string(domain.CodeOf(err))},
		Err:     err,
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) validator() *validator.Validate {
	if h.validate == nil {
		h.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return h.validate
}
