package family

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node dev mode.
//
// A single mutex guards all state, which makes every method atomic and gives
// the same race semantics as the Postgres conditional writes: a rotation
// observes the row's revoked state under the lock, so two rotations of the
// same hash cannot both win.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Credential
}

// NewMemoryStore constructs an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Credential)}
}

// GetByHash loads a credential row by credential hash.
func (s *MemoryStore) GetByHash(ctx context.Context, credentialHash string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byHash[credentialHash]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return *c, nil
}

// CreateFamily inserts the first credential of a new family under the cap.
func (s *MemoryStore) CreateFamily(ctx context.Context, cred Credential, maxFamilies int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if maxFamilies > 0 {
		current := s.activeFamilyCountLocked(cred.UserID, cred.IssuedAt)
		if current >= maxFamilies {
			return FamilyLimitError{UserID: cred.UserID, Current: current, Max: maxFamilies}
		}
	}

	s.insertLocked(cred)
	return nil
}

// Rotate conditionally revokes the active row matching oldHash and inserts next.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, oldHash string, next Credential) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	if old.RevokedAt != nil {
		return Credential{}, ErrCredentialNotActive
	}

	ts := now
	reason := ReasonRotated
	replaced := next.CredentialHash
	old.RevokedAt = &ts
	old.RevocationReason = &reason
	old.ReplacedBy = &replaced

	s.insertLocked(next)
	return *old, nil
}

// RevokeFamily revokes all active credentials in the family (idempotent).
func (s *MemoryStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.byHash {
		if c.FamilyID != familyID || c.RevokedAt != nil {
			continue
		}
		ts := now
		r := reason
		c.RevokedAt = &ts
		c.RevocationReason = &r
		n++
	}
	return n, nil
}

// RevokeUser revokes all active credentials across the user's families (idempotent).
func (s *MemoryStore) RevokeUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.byHash {
		if c.UserID != userID || c.RevokedAt != nil {
			continue
		}
		ts := now
		r := reason
		c.RevokedAt = &ts
		c.RevocationReason = &r
		n++
	}
	return n, nil
}

// ListActiveFamilies projects credentials into the session directory.
func (s *MemoryStore) ListActiveFamilies(ctx context.Context, now time.Time, userID string) ([]FamilyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]*Credential)
	for _, c := range s.byHash {
		if c.UserID != userID || c.RevokedAt != nil || !c.ExpiresAt.After(now) {
			continue
		}
		if cur, ok := latest[c.FamilyID]; !ok || c.IssuedAt.After(cur.IssuedAt) {
			latest[c.FamilyID] = c
		}
	}

	out := make([]FamilyInfo, 0, len(latest))
	for _, c := range latest {
		out = append(out, FamilyInfo{
			FamilyID:   c.FamilyID,
			UserID:     c.UserID,
			DeviceInfo: c.DeviceInfo,
			UserAgent:  c.UserAgent,
			IPHash:     c.IPHash,
			IssuedAt:   c.IssuedAt,
			ExpiresAt:  c.ExpiresAt,
			LastUsedAt: c.IssuedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

// SweepExpired bulk-revokes active rows past their deadline.
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.byHash {
		if c.RevokedAt != nil || c.ExpiresAt.After(now) {
			continue
		}
		ts := now
		r := ReasonExpired
		c.RevokedAt = &ts
		c.RevocationReason = &r
		n++
	}
	return n, nil
}

func (s *MemoryStore) insertLocked(c Credential) {
	cp := c
	s.byHash[c.CredentialHash] = &cp
}

func (s *MemoryStore) activeFamilyCountLocked(userID string, now time.Time) int {
	families := make(map[string]struct{})
	for _, c := range s.byHash {
		if c.UserID != userID || c.RevokedAt != nil || !c.ExpiresAt.After(now) {
			continue
		}
		families[c.FamilyID] = struct{}{}
	}
	return len(families)
}
