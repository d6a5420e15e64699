package family

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (bastion.refresh_credentials).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const credentialColumns = `
	id, user_id, family_id, credential_hash, jti,
	device_info, user_agent, ip_hash,
	issued_at, expires_at, revoked_at, revocation_reason, replaced_by`

// GetByHash loads a credential row by credential hash.
func (s *PostgresStore) GetByHash(ctx context.Context, credentialHash string) (Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+credentialColumns+`
		FROM bastion.refresh_credentials
		WHERE credential_hash = $1
	`, credentialHash)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// CreateFamily inserts the first credential of a new family.
//
// The per-user advisory lock serializes concurrent creates for the same user
// so the active-family cap cannot be exceeded by racing logins.
func (s *PostgresStore) CreateFamily(ctx context.Context, cred Credential, maxFamilies int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('bastion.families:' || $1::text))`, cred.UserID); err != nil {
		return err
	}

	var current int
	err = tx.QueryRow(ctx, `
		SELECT count(DISTINCT family_id)
		FROM bastion.refresh_credentials
		WHERE user_id = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
	`, cred.UserID, cred.IssuedAt).Scan(&current)
	if err != nil {
		return err
	}

	if maxFamilies > 0 && current >= maxFamilies {
		return FamilyLimitError{UserID: cred.UserID, Current: current, Max: maxFamilies}
	}

	if err := insertCredentialTx(ctx, tx, cred); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Rotate performs the conditional revoke-and-insert inside one transaction.
//
// The UPDATE predicate on revoked_at is the race decider: at most one of two
// concurrent rotations presenting the same hash can observe an affected row,
// and only that caller inserts a successor.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldHash string, next Credential) (Credential, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Credential{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := markRotatedTx(ctx, tx, now, oldHash, next.CredentialHash)
	if err != nil {
		return Credential{}, err
	}

	if err := insertCredentialTx(ctx, tx, next); err != nil {
		return Credential{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Credential{}, err
	}
	return prev, nil
}

// RevokeFamily revokes all active credentials in the family (idempotent).
//
// Only rows with revoked_at IS NULL are touched; revoked rows stay immutable
// and the affected-row count therefore equals the transitioned count.
func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bastion.refresh_credentials
		SET revoked_at = $2, revocation_reason = $3
		WHERE family_id = $1
		  AND revoked_at IS NULL
	`, familyID, now, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RevokeUser revokes all active credentials across the user's families (idempotent).
func (s *PostgresStore) RevokeUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bastion.refresh_credentials
		SET revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1
		  AND revoked_at IS NULL
	`, userID, now, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveFamilies projects the credential table into the session directory.
func (s *PostgresStore) ListActiveFamilies(ctx context.Context, now time.Time, userID string) ([]FamilyInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT family_id, user_id, device_info, user_agent, ip_hash, issued_at, expires_at
		FROM (
			SELECT DISTINCT ON (family_id)
				family_id, user_id, device_info, user_agent, ip_hash, issued_at, expires_at
			FROM bastion.refresh_credentials
			WHERE user_id = $1
			  AND revoked_at IS NULL
			  AND expires_at > $2
			ORDER BY family_id, issued_at DESC
		) latest
		ORDER BY issued_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FamilyInfo
	for rows.Next() {
		var fi FamilyInfo
		if err := rows.Scan(&fi.FamilyID, &fi.UserID, &fi.DeviceInfo, &fi.UserAgent, &fi.IPHash, &fi.IssuedAt, &fi.ExpiresAt); err != nil {
			return nil, err
		}
		fi.LastUsedAt = fi.IssuedAt
		out = append(out, fi)
	}
	return out, rows.Err()
}

// SweepExpired bulk-revokes active rows past their deadline.
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bastion.refresh_credentials
		SET revoked_at = $1, revocation_reason = $2
		WHERE revoked_at IS NULL
		  AND expires_at <= $1
	`, now, ReasonExpired)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (duplicate credential_hash or jti).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
