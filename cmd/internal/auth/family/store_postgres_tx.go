package family

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

func scanCredential(row pgx.Row) (Credential, error) {
	var c Credential
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.FamilyID,
		&c.CredentialHash,
		&c.JTI,
		&c.DeviceInfo,
		&c.UserAgent,
		&c.IPHash,
		&c.IssuedAt,
		&c.ExpiresAt,
		&c.RevokedAt,
		&c.RevocationReason,
		&c.ReplacedBy,
	)
	return c, err
}

func insertCredentialTx(ctx context.Context, tx pgx.Tx, c Credential) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bastion.refresh_credentials (
			id, user_id, family_id, credential_hash, jti,
			device_info, user_agent, ip_hash,
			issued_at, expires_at, revoked_at, revocation_reason, replaced_by
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, NULL, NULL, NULL
		)
	`, c.ID, c.UserID, c.FamilyID, c.CredentialHash, c.JTI,
		c.DeviceInfo, c.UserAgent, c.IPHash,
		c.IssuedAt, c.ExpiresAt)
	return err
}

// markRotatedTx conditionally revokes the active row matching oldHash and
// returns it. Zero affected rows means either the row does not exist or a
// concurrent rotation already consumed it.
func markRotatedTx(ctx context.Context, tx pgx.Tx, now time.Time, oldHash, newHash string) (Credential, error) {
	row := tx.QueryRow(ctx, `
		UPDATE bastion.refresh_credentials
		SET revoked_at = $2,
		    revocation_reason = $3,
		    replaced_by = $4
		WHERE credential_hash = $1
		  AND revoked_at IS NULL
		RETURNING`+credentialColumns+`
	`, oldHash, now, ReasonRotated, newHash)

	prev, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish "never existed" from "someone else won the race".
		var exists bool
		if probeErr := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM bastion.refresh_credentials WHERE credential_hash = $1
			)
		`, oldHash).Scan(&exists); probeErr != nil {
			return Credential{}, probeErr
		}
		if !exists {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, ErrCredentialNotActive
	}
	if err != nil {
		return Credential{}, err
	}
	return prev, nil
}
