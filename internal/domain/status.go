package domain

import "strings"

type NegotiationStatus string

const (
	StatusCreated        NegotiationStatus = "CREATED"
	StatusCountered      NegotiationStatus = "COUNTERED"
	StatusAccepted       NegotiationStatus = "ACCEPTED"
	StatusEscrowFunded   NegotiationStatus = "ESCROW_FUNDED"
	StatusEscrowReleased NegotiationStatus = "ESCROW_RELEASED"
	StatusEscrowRefunded NegotiationStatus = "ESCROW_REFUNDED"
	StatusCompleted      NegotiationStatus = "COMPLETED"
	StatusCancelled      NegotiationStatus = "CANCELLED"
)

var negotiationStatuses = []NegotiationStatus{
	StatusCreated, StatusCountered, StatusAccepted, StatusEscrowFunded,
	StatusEscrowReleased, StatusEscrowRefunded, StatusCompleted, StatusCancelled,
}

// ParseNegotiationStatus rejects anything outside the closed set.
func ParseNegotiationStatus(s string) (NegotiationStatus, error) {
	v := NegotiationStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range negotiationStatuses {
		if st == v {
			return v, nil
		}
	}
	return "", Errorf(CodeValidationFailed, "unknown negotiation status %q", s)
}

// Terminal reports whether no transition can leave s.
func (s NegotiationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PremiumTier string

const (
	TierStandard   PremiumTier = "STANDARD"
	TierPremium    PremiumTier = "PREMIUM"
	TierPremiumSLA PremiumTier = "PREMIUM_SLA"
)

// ParsePremiumTier maps "" to STANDARD and rejects unknown tiers.
func ParsePremiumTier(s string) (PremiumTier, error) {
	switch PremiumTier(strings.ToUpper(strings.TrimSpace(s))) {
	case "", TierStandard:
		return TierStandard, nil
	case TierPremium:
		return TierPremium, nil
	case TierPremiumSLA:
		return TierPremiumSLA, nil
	}
	return "", Errorf(CodeValidationFailed, "unknown premium tier %q", s)
}

// IsPremium is true for every paid tier.
func (t PremiumTier) IsPremium() bool {
	return t == TierPremium || t == TierPremiumSLA
}

type ContractIntentEventType string

const (
	IntentEnvelopeIssued      ContractIntentEventType = "ENVELOPE_ISSUED"
	IntentParticipantViewed   ContractIntentEventType = "PARTICIPANT_VIEWED"
	IntentParticipantSigned   ContractIntentEventType = "PARTICIPANT_SIGNED"
	IntentParticipantDeclined ContractIntentEventType = "PARTICIPANT_DECLINED"
)

func ParseContractIntentEventType(s string) (ContractIntentEventType, error) {
	switch v := ContractIntentEventType(strings.ToUpper(strings.TrimSpace(s))); v {
	case IntentEnvelopeIssued, IntentParticipantViewed, IntentParticipantSigned, IntentParticipantDeclined:
		return v, nil
	}
	return "", Errorf(CodeValidationFailed, "unknown contract intent event type %q", s)
}

type ParticipantRole string

const (
	RoleBuyer   ParticipantRole = "BUYER"
	RoleSeller  ParticipantRole = "SELLER"
	RoleAdmin   ParticipantRole = "ADMIN"
	RoleWitness ParticipantRole = "WITNESS"
)

func ParseParticipantRole(s string) (ParticipantRole, error) {
	switch v := ParticipantRole(strings.ToUpper(strings.TrimSpace(s))); v {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleWitness:
		return v, nil
	}
	return "", Errorf(CodeValidationFailed, "unknown participant role %q", s)
}

func (s NegotiationStatus) String() string { return string(s) }

func (t PremiumTier) String() string { return string(t) }

func (e ContractIntentEventType) String() string { return string(e) }

func (r ParticipantRole) String() string { return string(r) }
