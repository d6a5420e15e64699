package family

import (
	"context"
	"time"

	"bastion/cmd/security/token"
)

// RevokeFamily revokes every currently-active credential in the family.
//
// Idempotent: revoking an already-fully-revoked family returns 0 and emits
// nothing. Revoked rows are never touched again.
func (s *Service) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	n, err := s.store.RevokeFamily(ctx, now, familyID, reason)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		metricRevoked.WithLabelValues("family").Add(float64(n))
		s.emit(ctx, Event{
			Type:     EventFamilyRevoked,
			FamilyID: familyID,
			Context:  map[string]any{"count": n, "reason": reason},
			At:       now,
		})
	}
	return n, nil
}

// RevokeUser revokes every active credential across all of the user's
// families. Used by logout-everywhere, password reset, and admin action;
// callers treat a failure here as non-fatal to their primary operation but
// must log it loudly.
func (s *Service) RevokeUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	n, err := s.store.RevokeUser(ctx, now, userID, reason)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		metricRevoked.WithLabelValues("user").Add(float64(n))
		s.emit(ctx, Event{
			Type:    EventUserRevoked,
			UserID:  userID,
			Context: map[string]any{"count": n, "reason": reason},
			At:      now,
		})
	}
	return n, nil
}

// HandleReuse handles a reuse incident: the whole family is revoked and a
// critical event emitted. The caller has already rejected the request by this
// point, so failure to revoke is logged but never propagated; blocking the
// negative response would only help the attacker.
//
// The emitted event carries a truncated hash prefix only.
func (s *Service) HandleReuse(ctx context.Context, now time.Time, familyID, userID, credentialHash, reuseContext string) {
	metricReuseDetected.Inc()

	n, err := s.store.RevokeFamily(ctx, now, familyID, ReuseReason(reuseContext))
	if err != nil {
		s.log.Error("family.reuse.revoke.fail", "err", err, "family_id", familyID)
	} else if n > 0 {
		metricRevoked.WithLabelValues("family").Add(float64(n))
	}

	s.emit(ctx, Event{
		Type:       EventCriticalReuse,
		FamilyID:   familyID,
		UserID:     userID,
		HashPrefix: token.HashPrefix(credentialHash, 8),
		Context:    map[string]any{"context": reuseContext, "revoked": n},
		At:         now,
	})
}
