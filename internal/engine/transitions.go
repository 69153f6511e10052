package engine

import "dealdesk/internal/domain"

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.NegotiationStatus) bool {
	switch from {
	case domain.StatusCreated, domain.StatusCountered:
		return to == domain.StatusCountered || to == domain.StatusAccepted || to == domain.StatusCancelled
	case domain.StatusAccepted:
		return to == domain.StatusEscrowFunded || to == domain.StatusEscrowRefunded || to == domain.StatusCancelled
	case domain.StatusEscrowFunded:
		return to == domain.StatusEscrowReleased || to == domain.StatusEscrowRefunded || to == domain.StatusCancelled
	case domain.StatusEscrowReleased:
		return to == domain.StatusCompleted
	case domain.StatusEscrowRefunded:
		return to == domain.StatusCancelled
	}
	return false
}

func ensureNegotiationTransition(from, to domain.NegotiationStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return domain.Errorf(domain.CodeInvalidTransition, "invalid negotiation status transition %s -> %s", from, to).
		WithDetails(map[string]any{"from": from, "to": to})
}

// ensureSignable rejects states in which contract signatures are not accepted.
func ensureSignable(status domain.NegotiationStatus) error {
	switch status {
	case domain.StatusAccepted, domain.StatusEscrowFunded, domain.StatusEscrowReleased:
		return nil
	}
	return domain.Errorf(domain.CodeInvalidTransition, "contract cannot be signed while negotiation is %s", status).
		WithDetails(map[string]any{"from": status})
}
