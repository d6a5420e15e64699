package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bastion/cmd/security/ids"
	"bastion/cmd/security/token"
)

// RateGuard throttles rotation attempts per family.
// Implementations return a typed rate-limit error carrying retry metadata.
type RateGuard interface {
	CheckRotation(ctx context.Context, familyID string) error
}

// ClaimsResolver turns a user ID into the identity claims the access-token
// collaborator needs. When nil, the service supplies bare user-ID claims.
type ClaimsResolver interface {
	ResolveClaims(ctx context.Context, userID string) (IdentityClaims, error)
}

// Service implements the high-level refresh-credential operations for Bastion.
//
// It creates families, performs single-use rotation with reuse detection,
// supports family-wide and user-wide revocation, and projects the credential
// store into the per-user session directory.
type Service struct {
	cfg   Config
	log   *slog.Logger
	store Store

	guard  RateGuard
	claims ClaimsResolver
	events EventSink
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithRateGuard installs a rotation rate guard.
func WithRateGuard(g RateGuard) ServiceOption {
	return func(s *Service) {
		if s == nil || g == nil {
			return
		}
		s.guard = g
	}
}

// WithEventSink installs a security-event sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) {
		if s == nil || sink == nil {
			return
		}
		s.events = sink
	}
}

// WithClaimsResolver installs an identity-claims resolver.
func WithClaimsResolver(r ClaimsResolver) ServiceOption {
	return func(s *Service) {
		if s == nil || r == nil {
			return
		}
		s.claims = r
	}
}

// NewService constructs a Service with the provided configuration and store.
func NewService(cfg Config, log *slog.Logger, store Store, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		events: LogEventSink{Log: log},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// CreateFamily mints a new family with one active credential.
//
// Refresh secrets are opaque random strings and must never be persisted in
// plaintext: only the hash reaches the store. The raw IP is hashed before
// storage as well. Fails with FamilyLimitError when the user already holds
// MaxFamiliesPerUser families with an active credential.
func (s *Service) CreateFamily(ctx context.Context, now time.Time, userID string, dev DeviceContext) (FamilyGrant, error) {
	familyID, err := ids.NewULID(now)
	if err != nil {
		return FamilyGrant{}, err
	}

	secret, cred, err := s.newCredential(now, userID, familyID, dev)
	if err != nil {
		return FamilyGrant{}, err
	}

	if err := s.store.CreateFamily(ctx, cred, s.cfg.MaxFamiliesPerUser); err != nil {
		return FamilyGrant{}, err
	}

	s.emit(ctx, Event{
		Type:     EventFamilyCreated,
		FamilyID: familyID,
		UserID:   userID,
		At:       now,
	})

	return FamilyGrant{FamilyID: familyID, Secret: secret, Credential: cred}, nil
}

// Rotate replaces the active credential matching oldHash with a successor in
// the same family.
//
// It fails with ErrCredentialNotFound, ErrCredentialNotActive, or
// ErrCredentialExpired when the row is missing, revoked, or past its
// deadline. On success exactly one row is mutated and exactly one inserted,
// inside one transaction; no partial state is observable to other callers.
func (s *Service) Rotate(ctx context.Context, now time.Time, oldHash string, dev DeviceContext) (RotationOutcome, error) {
	cur, err := s.store.GetByHash(ctx, oldHash)
	if err != nil {
		return RotationOutcome{}, err
	}
	if cur.RevokedAt != nil {
		return RotationOutcome{}, ErrCredentialNotActive
	}
	if IsExpired(now, cur.ExpiresAt) {
		return RotationOutcome{}, ErrCredentialExpired
	}

	secret, next, err := s.newCredential(now, cur.UserID, cur.FamilyID, dev)
	if err != nil {
		return RotationOutcome{}, err
	}

	prev, err := s.store.Rotate(ctx, now, oldHash, next)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) || errors.Is(err, ErrCredentialNotActive) {
			return RotationOutcome{}, err
		}
		return RotationOutcome{}, fmt.Errorf("%w: %v", ErrRotationFailed, err)
	}

	metricRotations.Inc()
	s.emit(ctx, Event{
		Type:       EventTokenRotated,
		FamilyID:   prev.FamilyID,
		UserID:     prev.UserID,
		HashPrefix: token.HashPrefix(prev.CredentialHash, 8),
		At:         now,
	})

	return RotationOutcome{Old: prev, New: next, Secret: secret}, nil
}

// ValidateAndRotate validates a presented refresh secret and rotates it.
//
// Check order is security-relevant and fixed: reuse detection runs before the
// rate-limit check and before any write, so an attacker cannot burn the rate
// budget to dodge detection. Expiry is not an attack signal and leaves the
// rest of the family untouched.
//
// Negative lifecycle outcomes (reused, revoked, expired) come back as a
// tagged ValidationResult. The reuse and revoked paths additionally return
// ErrFamilyCompromised after family revocation completes, so callers that
// only check the error cannot mistake the outcome for success.
func (s *Service) ValidateAndRotate(ctx context.Context, now time.Time, presentedSecret, reuseContext string, dev DeviceContext) (ValidationResult, error) {
	hash := token.HashSecretHex(presentedSecret)

	cur, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		return ValidationResult{}, err
	}

	if cur.RevokedAt != nil {
		return s.rejectRevoked(ctx, now, cur, reuseContext)
	}

	if IsExpired(now, cur.ExpiresAt) {
		metricValidationFailures.WithLabelValues(ReasonCodeExpired).Inc()
		return ValidationResult{IsValid: false, ReasonCode: ReasonCodeExpired}, nil
	}

	if s.guard != nil {
		if err := s.guard.CheckRotation(ctx, cur.FamilyID); err != nil {
			metricRateLimited.Inc()
			s.emit(ctx, Event{
				Type:     EventRotationRateLimit,
				FamilyID: cur.FamilyID,
				UserID:   cur.UserID,
				At:       now,
			})
			return ValidationResult{}, err
		}
	}

	rot, err := s.Rotate(ctx, now, hash, dev)
	if err != nil {
		// Someone else consumed the credential between our read and the
		// conditional write. A stale retry and a replayed theft are
		// indistinguishable here; treat it as reuse.
		if errors.Is(err, ErrCredentialNotActive) {
			if refetched, getErr := s.store.GetByHash(ctx, hash); getErr == nil {
				return s.rejectRevoked(ctx, now, refetched, reuseContext)
			}
			return s.rejectRevoked(ctx, now, cur, reuseContext)
		}
		if errors.Is(err, ErrCredentialExpired) {
			metricValidationFailures.WithLabelValues(ReasonCodeExpired).Inc()
			return ValidationResult{IsValid: false, ReasonCode: ReasonCodeExpired}, nil
		}
		return ValidationResult{}, err
	}

	claims, err := s.resolveClaims(ctx, rot.New.UserID)
	if err != nil {
		return ValidationResult{}, err
	}

	return ValidationResult{
		IsValid:  true,
		Claims:   claims,
		Rotation: &rot,
	}, nil
}

// DetectReuse reports whether a credential with this hash exists and is
// already revoked. A hash with no matching row returns false: absence of
// evidence is not evidence of attack, and upstream treats it as not-found.
func (s *Service) DetectReuse(ctx context.Context, credentialHash string) (bool, error) {
	cred, err := s.store.GetByHash(ctx, credentialHash)
	if errors.Is(err, ErrCredentialNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cred.RevokedAt != nil, nil
}

// rejectRevoked classifies presentation of a revoked credential and triggers
// family revocation. A superseded credential (replaced_by set) is the primary
// theft signal; any other revoked row is reported as revoked but still takes
// the whole family down, since a bearer holding it should not exist.
func (s *Service) rejectRevoked(ctx context.Context, now time.Time, cur Credential, reuseContext string) (ValidationResult, error) {
	// A row the sweeper retired was already dead on its own clock; presenting
	// it after the sweep is no more an attack signal than presenting it
	// before, so it stays benign.
	if cur.ReplacedBy == nil && cur.RevocationReason != nil && *cur.RevocationReason == ReasonExpired {
		metricValidationFailures.WithLabelValues(ReasonCodeExpired).Inc()
		return ValidationResult{IsValid: false, ReasonCode: ReasonCodeExpired}, nil
	}

	reasonCode := ReasonCodeRevoked
	if cur.ReplacedBy != nil {
		reasonCode = ReasonCodeReuseDetected
	}

	metricValidationFailures.WithLabelValues(reasonCode).Inc()
	s.HandleReuse(ctx, now, cur.FamilyID, cur.UserID, cur.CredentialHash, reuseContext)

	return ValidationResult{IsValid: false, ReasonCode: reasonCode}, ErrFamilyCompromised
}

func (s *Service) resolveClaims(ctx context.Context, userID string) (IdentityClaims, error) {
	if s.claims == nil {
		return IdentityClaims{UserID: userID}, nil
	}
	return s.claims.ResolveClaims(ctx, userID)
}

// newCredential builds an unrevoked credential row plus its raw secret.
func (s *Service) newCredential(now time.Time, userID, familyID string, dev DeviceContext) (string, Credential, error) {
	secret, err := token.NewOpaqueSecret(s.cfg.SecretBytes)
	if err != nil {
		return "", Credential{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", Credential{}, err
	}

	cred := Credential{
		ID:             id,
		UserID:         userID,
		FamilyID:       familyID,
		CredentialHash: token.HashSecretHex(secret),
		JTI:            ids.NewJTI(),
		DeviceInfo:     strPtrOrNil(dev.DeviceInfo),
		UserAgent:      strPtrOrNil(dev.UserAgent),
		IPHash:         strPtrOrNil(token.HashIPHex(dev.IP)),
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.cfg.CredentialTTL),
	}
	return secret, cred, nil
}

// emit forwards a security event to the sink. Sink failure is logged and
// never fails the primary operation.
func (s *Service) emit(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, ev); err != nil {
		s.log.Error("family.event.emit.fail", "err", err, "type", ev.Type)
	}
}

func strPtrOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
