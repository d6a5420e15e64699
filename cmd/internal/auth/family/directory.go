package family

import (
	"context"
	"time"
)

// IsExpired reports whether a deadline has passed. Pure timestamp
// comparison; no store access.
func IsExpired(now, expiresAt time.Time) bool {
	return !expiresAt.After(now)
}

// ListFamilies returns the user's active session directory: one entry per
// family with at least one active credential, carrying the most recent
// device/user-agent/ip-hash metadata, ordered most-recently-used first.
func (s *Service) ListFamilies(ctx context.Context, now time.Time, userID string) ([]FamilyInfo, error) {
	return s.store.ListActiveFamilies(ctx, now, userID)
}

// SweepExpired transitions all active-but-expired credentials to revoked
// (reason EXPIRED). Intended for a periodic background caller; safe to run
// repeatedly and concurrently with normal traffic since it only ever touches
// rows already past their deadline.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		metricSweepRevoked.Add(float64(n))
		s.emit(ctx, Event{
			Type:    EventExpiredSwept,
			Context: map[string]any{"count": n},
			At:      now,
		})
	}
	return n, nil
}
