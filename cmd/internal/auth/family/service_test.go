package family

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"bastion/cmd/internal/auth/guard"
	"bastion/cmd/security/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(opts ...ServiceOption) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(DefaultConfig(), testLogger(), store, opts...), store
}

// captureSink records every emitted event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) byType(t string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestCreateFamilyIssuesOpaqueSecret(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(context.Background(), now, "u1", DeviceContext{DeviceInfo: "laptop"})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if grant.Secret == "" || grant.FamilyID == "" {
		t.Fatalf("incomplete grant: %+v", grant)
	}
	if grant.Credential.CredentialHash == grant.Secret {
		t.Fatalf("secret stored in plaintext")
	}

	// Only the hash is resolvable in the store.
	cred, err := store.GetByHash(context.Background(), token.HashSecretHex(grant.Secret))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if cred.RevokedAt != nil {
		t.Fatalf("fresh credential must be active")
	}
	if cred.ExpiresAt.Sub(cred.IssuedAt) != DefaultConfig().CredentialTTL {
		t.Fatalf("ttl = %v", cred.ExpiresAt.Sub(cred.IssuedAt))
	}
	if cred.DeviceInfo == nil || *cred.DeviceInfo != "laptop" {
		t.Fatalf("device info not recorded")
	}
}

func TestValidateAndRotateChain(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	secret := grant.Secret
	for i := 0; i < 3; i++ {
		res, err := svc.ValidateAndRotate(ctx, now.Add(time.Duration(i)*time.Second), secret, "test", DeviceContext{})
		if err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
		if !res.IsValid || res.Rotation == nil {
			t.Fatalf("rotation %d: invalid result %+v", i+1, res)
		}
		if res.Claims.UserID != "u1" {
			t.Fatalf("claims user = %q", res.Claims.UserID)
		}
		if res.Rotation.New.FamilyID != grant.FamilyID {
			t.Fatalf("rotation left the family: %q", res.Rotation.New.FamilyID)
		}
		if res.Rotation.Secret == secret {
			t.Fatalf("rotation %d returned the same secret", i+1)
		}

		// The consumed row points at its successor.
		old, err := store.GetByHash(ctx, token.HashSecretHex(secret))
		if err != nil {
			t.Fatalf("old row: %v", err)
		}
		if old.RevokedAt == nil || old.ReplacedBy == nil {
			t.Fatalf("old row not closed out: %+v", old)
		}
		if *old.ReplacedBy != res.Rotation.New.CredentialHash {
			t.Fatalf("replaced_by mismatch")
		}
		if old.RevocationReason == nil || *old.RevocationReason != ReasonRotated {
			t.Fatalf("rotation reason = %v", old.RevocationReason)
		}

		secret = res.Rotation.Secret
	}
}

func TestReuseRevokesWholeFamily(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	svc, store := newTestService(WithEventSink(sink))
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	res, err := svc.ValidateAndRotate(ctx, now, grant.Secret, "test", DeviceContext{})
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	successor := res.Rotation.Secret

	// Replaying the consumed credential is the theft signal.
	res, err = svc.ValidateAndRotate(ctx, now.Add(time.Second), grant.Secret, "test", DeviceContext{})
	if !errors.Is(err, ErrFamilyCompromised) {
		t.Fatalf("expected ErrFamilyCompromised, got %v", err)
	}
	if res.IsValid || res.ReasonCode != ReasonCodeReuseDetected {
		t.Fatalf("result = %+v", res)
	}

	// The legitimate successor died with the family.
	cur, err := store.GetByHash(ctx, token.HashSecretHex(successor))
	if err != nil {
		t.Fatalf("successor row: %v", err)
	}
	if cur.RevokedAt == nil {
		t.Fatalf("successor still active after reuse")
	}
	if cur.RevocationReason == nil || !strings.HasPrefix(*cur.RevocationReason, ReasonReusePrefix) {
		t.Fatalf("successor reason = %v", cur.RevocationReason)
	}

	evs := sink.byType(EventCriticalReuse)
	if len(evs) != 1 {
		t.Fatalf("expected 1 critical reuse event, got %d", len(evs))
	}
	if evs[0].HashPrefix == "" || len(evs[0].HashPrefix) > 8 {
		t.Fatalf("event hash prefix = %q", evs[0].HashPrefix)
	}
	if evs[0].UserID != "u1" {
		t.Fatalf("event user = %q", evs[0].UserID)
	}
}

func TestReusedSuccessorReportsRevokedFamily(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	res, err := svc.ValidateAndRotate(ctx, now, grant.Secret, "test", DeviceContext{})
	if err != nil {
		t.Fatalf("rotation: %v", err)
	}
	successor := res.Rotation.Secret

	if _, err := svc.ValidateAndRotate(ctx, now, grant.Secret, "test", DeviceContext{}); !errors.Is(err, ErrFamilyCompromised) {
		t.Fatalf("reuse: %v", err)
	}

	// The successor was revoked without a replacement, so presenting it is
	// classified as plain revocation, not reuse.
	res, err = svc.ValidateAndRotate(ctx, now, successor, "test", DeviceContext{})
	if !errors.Is(err, ErrFamilyCompromised) {
		t.Fatalf("expected ErrFamilyCompromised, got %v", err)
	}
	if res.ReasonCode != ReasonCodeRevoked {
		t.Fatalf("reason = %q, want %q", res.ReasonCode, ReasonCodeRevoked)
	}
}

func TestExpiredCredentialIsBenign(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.CredentialTTL = time.Minute
	svc := NewService(cfg, testLogger(), store, WithEventSink(sink))
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	res, err := svc.ValidateAndRotate(ctx, now.Add(2*time.Minute), grant.Secret, "test", DeviceContext{})
	if err != nil {
		t.Fatalf("expired credential must not be an error: %v", err)
	}
	if res.IsValid || res.ReasonCode != ReasonCodeExpired {
		t.Fatalf("result = %+v", res)
	}

	// Expiry is a lifecycle end, not an attack: no reuse event, row intact.
	if evs := sink.byType(EventCriticalReuse); len(evs) != 0 {
		t.Fatalf("unexpected reuse events: %d", len(evs))
	}
	cred, err := store.GetByHash(ctx, token.HashSecretHex(grant.Secret))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if cred.RevokedAt != nil {
		t.Fatalf("expired row must not be revoked by validation")
	}
}

func TestFamilyCapEnforced(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaxFamiliesPerUser = 3
	svc := NewService(cfg, testLogger(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{}); err != nil {
			t.Fatalf("family %d: %v", i+1, err)
		}
	}

	_, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if !errors.Is(err, ErrFamilyLimit) {
		t.Fatalf("expected ErrFamilyLimit, got %v", err)
	}
	var limitErr FamilyLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected FamilyLimitError, got %T", err)
	}
	if limitErr.Current != 3 || limitErr.Max != 3 {
		t.Fatalf("limit error = %+v", limitErr)
	}

	// Other users are unaffected.
	if _, err := svc.CreateFamily(ctx, now, "u2", DeviceContext{}); err != nil {
		t.Fatalf("u2: %v", err)
	}
}

func TestFamilyCapFreesAfterRevocation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaxFamiliesPerUser = 1
	svc := NewService(cfg, testLogger(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if _, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{}); !errors.Is(err, ErrFamilyLimit) {
		t.Fatalf("expected cap hit, got %v", err)
	}

	if _, err := svc.RevokeFamily(ctx, now, grant.FamilyID, ReasonUserLogout); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	if _, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{}); err != nil {
		t.Fatalf("cap must free after revocation: %v", err)
	}
}

func TestRotationRateLimit(t *testing.T) {
	t.Parallel()

	g := guard.New(guard.NewMemoryCounterStore(), guard.Config{
		RotationMax:    2,
		RotationWindow: time.Minute,
	})
	sink := &captureSink{}
	svc, _ := newTestService(WithRateGuard(g), WithEventSink(sink))
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	secret := grant.Secret
	for i := 0; i < 2; i++ {
		res, err := svc.ValidateAndRotate(ctx, now, secret, "test", DeviceContext{})
		if err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
		secret = res.Rotation.Secret
	}

	_, err = svc.ValidateAndRotate(ctx, now, secret, "test", DeviceContext{})
	if !errors.Is(err, guard.ErrRateLimited) {
		t.Fatalf("expected guard.ErrRateLimited, got %v", err)
	}
	var rlErr guard.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", rlErr.RetryAfter)
	}

	// The credential survived: a throttled attempt consumes nothing.
	res, err := svc.DetectReuse(ctx, token.HashSecretHex(secret))
	if err != nil || res {
		t.Fatalf("credential must still be active: reuse=%v err=%v", res, err)
	}

	if evs := sink.byType(EventRotationRateLimit); len(evs) != 1 {
		t.Fatalf("expected 1 rate-limit event, got %d", len(evs))
	}
}

func TestRevokeUserAcrossFamilies(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	var grants []FamilyGrant
	for i := 0; i < 3; i++ {
		g, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
		if err != nil {
			t.Fatalf("family %d: %v", i+1, err)
		}
		grants = append(grants, g)
	}
	other, err := svc.CreateFamily(ctx, now, "u2", DeviceContext{})
	if err != nil {
		t.Fatalf("u2: %v", err)
	}

	n, err := svc.RevokeUser(ctx, now, "u1", ReasonPasswordReset)
	if err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d rows, want 3", n)
	}

	for _, g := range grants {
		reused, err := svc.DetectReuse(ctx, token.HashSecretHex(g.Secret))
		if err != nil || !reused {
			t.Fatalf("family %s still active: reuse=%v err=%v", g.FamilyID, reused, err)
		}
	}
	if reused, err := svc.DetectReuse(ctx, token.HashSecretHex(other.Secret)); err != nil || reused {
		t.Fatalf("u2 must be untouched: reuse=%v err=%v", reused, err)
	}

	// Idempotent: nothing left to revoke.
	n, err = svc.RevokeUser(ctx, now, "u1", ReasonPasswordReset)
	if err != nil || n != 0 {
		t.Fatalf("second revoke: n=%d err=%v", n, err)
	}
}

func TestRevocationIsWriteOnce(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	if _, err := svc.RevokeFamily(ctx, now, grant.FamilyID, ReasonUserLogout); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	later := now.Add(time.Hour)
	if n, err := svc.RevokeFamily(ctx, later, grant.FamilyID, ReasonAdmin); err != nil || n != 0 {
		t.Fatalf("second revoke must be a no-op: n=%d err=%v", n, err)
	}

	// First revocation's timestamp and reason are preserved.
	cred, err := store.GetByHash(ctx, token.HashSecretHex(grant.Secret))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if cred.RevokedAt == nil || !cred.RevokedAt.Equal(now) {
		t.Fatalf("revoked_at = %v, want %v", cred.RevokedAt, now)
	}
	if cred.RevocationReason == nil || *cred.RevocationReason != ReasonUserLogout {
		t.Fatalf("reason = %v", cred.RevocationReason)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.CredentialTTL = time.Minute
	svc := NewService(cfg, testLogger(), store, WithEventSink(sink))
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{}); err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if _, err := svc.CreateFamily(ctx, now.Add(30*time.Minute), "u2", DeviceContext{}); err != nil {
		t.Fatalf("CreateFamily u2: %v", err)
	}

	n, err := svc.SweepExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d rows, want 1", n)
	}

	// Second pass finds nothing.
	if n, err := svc.SweepExpired(ctx, now.Add(2*time.Minute)); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
	if evs := sink.byType(EventExpiredSwept); len(evs) != 1 {
		t.Fatalf("expected 1 sweep event, got %d", len(evs))
	}
}

func TestDetectReuse(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	// Unknown hash: not-found is not evidence of attack.
	if reused, err := svc.DetectReuse(ctx, token.HashSecretHex("never-issued")); err != nil || reused {
		t.Fatalf("unknown hash: reuse=%v err=%v", reused, err)
	}

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	hash := token.HashSecretHex(grant.Secret)

	if reused, err := svc.DetectReuse(ctx, hash); err != nil || reused {
		t.Fatalf("active hash: reuse=%v err=%v", reused, err)
	}

	if _, err := svc.ValidateAndRotate(ctx, now, grant.Secret, "test", DeviceContext{}); err != nil {
		t.Fatalf("rotation: %v", err)
	}
	if reused, err := svc.DetectReuse(ctx, hash); err != nil || !reused {
		t.Fatalf("consumed hash: reuse=%v err=%v", reused, err)
	}
}

func TestListFamiliesDirectory(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{DeviceInfo: "laptop"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.CreateFamily(ctx, now.Add(time.Minute), "u1", DeviceContext{DeviceInfo: "phone"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	infos, err := svc.ListFamilies(ctx, now.Add(2*time.Minute), "u1")
	if err != nil {
		t.Fatalf("ListFamilies: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 families, got %d", len(infos))
	}
	// Most recently used first.
	if infos[0].FamilyID != second.FamilyID || infos[1].FamilyID != first.FamilyID {
		t.Fatalf("unexpected order: %q, %q", infos[0].FamilyID, infos[1].FamilyID)
	}

	// Revoked families drop out of the directory.
	if _, err := svc.RevokeFamily(ctx, now.Add(2*time.Minute), first.FamilyID, ReasonUserLogout); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	infos, err = svc.ListFamilies(ctx, now.Add(3*time.Minute), "u1")
	if err != nil {
		t.Fatalf("ListFamilies: %v", err)
	}
	if len(infos) != 1 || infos[0].FamilyID != second.FamilyID {
		t.Fatalf("directory after revoke: %+v", infos)
	}
}

func TestSweptCredentialStaysBenign(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.CredentialTTL = time.Minute
	svc := NewService(cfg, testLogger(), store, WithEventSink(sink))
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}
	if n, err := svc.SweepExpired(ctx, now.Add(2*time.Minute)); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	// The credential was benign before the sweep; retiring the row must not
	// turn a late replay into a compromise.
	res, err := svc.ValidateAndRotate(ctx, now.Add(3*time.Minute), grant.Secret, "test", DeviceContext{})
	if err != nil {
		t.Fatalf("swept credential must not be an error: %v", err)
	}
	if res.IsValid || res.ReasonCode != ReasonCodeExpired {
		t.Fatalf("result = %+v", res)
	}
	if evs := sink.byType(EventCriticalReuse); len(evs) != 0 {
		t.Fatalf("unexpected reuse events: %d", len(evs))
	}

	// The sweep's write-once revocation stands untouched.
	cred, err := store.GetByHash(ctx, token.HashSecretHex(grant.Secret))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if cred.RevocationReason == nil || *cred.RevocationReason != ReasonExpired {
		t.Fatalf("row after replay: %+v", cred)
	}
}

func TestConcurrentRotationHasSingleWinner(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Now().UTC()

	grant, err := svc.CreateFamily(ctx, now, "u1", DeviceContext{})
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	// All callers present the same secret at once. The conditional write
	// decides: exactly one rotation lands, every loser is classified as
	// reuse and comes back with the family compromised.
	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := svc.ValidateAndRotate(ctx, now.Add(time.Second), grant.Secret, "test", DeviceContext{})
			if err == nil && !res.IsValid {
				results <- errors.New("nil error with invalid result")
				return
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var winners, losers int
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrFamilyCompromised):
			losers++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if losers != workers-1 {
		t.Fatalf("losers = %d, want %d", losers, workers-1)
	}
}
