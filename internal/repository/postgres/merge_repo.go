package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/repository"
)

// MergeRepo implements the transactional duplicate-account merge.
type MergeRepo struct{ db *DB }

// NewMergeRepo constructs a merge repository.
func NewMergeRepo(db *DB) *MergeRepo { return &MergeRepo{db: db} }

// mergeIdentity is the slice of a provider identity the merge decisions need.
type mergeIdentity struct {
	id          int64
	provider    string
	providerUID string
	unionID     string
}

// MergeUsers folds duplicateID into survivorID. Runs as one transaction:
// either every step lands or none do. Conflicting populated federation keys
// abort with ErrFederationConflict rather than picking a winner.
func (r *MergeRepo) MergeUsers(ctx context.Context, survivorID, duplicateID uuid.UUID) (report repository.MergeReport, err error) {
	if survivorID == duplicateID {
		return report, errors.New("survivor and duplicate are the same user")
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return report, err
	}
	defer finishTx(ctx, tx, &err)

	// Lock both user rows for the duration of the merge.
	const lockUsers = `SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := tx.Query(ctx, lockUsers, []uuid.UUID{survivorID, duplicateID})
	if err != nil {
		return report, err
	}
	locked := 0
	for rows.Next() {
		locked++
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return report, err
	}
	if locked != 2 {
		err = errs.ErrNotFound
		return report, err
	}

	// Owned resources move first.
	const moveEvents = `UPDATE events SET user_id=$1 WHERE user_id=$2`
	tag, err := tx.Exec(ctx, moveEvents, survivorID, duplicateID)
	if err != nil {
		return report, err
	}
	report.EventsMoved = tag.RowsAffected()

	const moveCalendars = `UPDATE public_calendars SET created_by=$1 WHERE created_by=$2`
	tag, err = tx.Exec(ctx, moveCalendars, survivorID, duplicateID)
	if err != nil {
		return report, err
	}
	report.CalendarsMoved = tag.RowsAffected()

	// Provider identities: migrate or fold, never overwrite a populated
	// federation key with a different one.
	dupIdents, err := identitiesOf(ctx, tx, duplicateID)
	if err != nil {
		return report, err
	}
	for _, dup := range dupIdents {
		surv, lookupErr := identityOf(ctx, tx, survivorID, dup.provider)
		switch {
		case errors.Is(lookupErr, errs.ErrNotFound):
			const reassign = `UPDATE provider_identities SET user_id=$1, updated_at=now() WHERE id=$2`
			if _, err = tx.Exec(ctx, reassign, survivorID, dup.id); err != nil {
				return report, err
			}
			report.IdentitiesMoved++
		case lookupErr != nil:
			err = lookupErr
			return report, err
		default:
			if surv.unionID != "" && dup.unionID != "" && surv.unionID != dup.unionID {
				err = fmt.Errorf("provider %s: %w", dup.provider, errs.ErrFederationConflict)
				return report, err
			}
			// Fold: survivor keeps its row, inherits the duplicate's union id
			// and fresher provider-local id; the duplicate row goes away so
			// its unique keys free up first.
			const drop = `DELETE FROM provider_identities WHERE id=$1`
			if _, err = tx.Exec(ctx, drop, dup.id); err != nil {
				return report, err
			}
			const fold = `
UPDATE provider_identities
SET union_id = COALESCE(union_id, NULLIF($2, '')), provider_uid=$3, updated_at=now()
WHERE id=$1`
			if _, err = tx.Exec(ctx, fold, surv.id, dup.unionID, dup.providerUID); err != nil {
				return report, err
			}
			report.IdentitiesMoved++
		}
	}

	// Cross-app mapping follows the same rules.
	if err = r.mergeMapping(ctx, tx, survivorID, duplicateID, &report); err != nil {
		return report, err
	}

	// Schema cascades clean up the duplicate's leftover codes and tokens.
	const dropUser = `DELETE FROM users WHERE id=$1`
	if _, err = tx.Exec(ctx, dropUser, duplicateID); err != nil {
		return report, err
	}
	return report, nil
}

func (r *MergeRepo) mergeMapping(ctx context.Context, tx pgx.Tx, survivorID, duplicateID uuid.UUID, report *repository.MergeReport) error {
	var (
		dupID      int64
		dupUnionID *string
	)
	const sel = `SELECT id, union_id FROM user_mappings WHERE user_id=$1 FOR UPDATE`
	err := tx.QueryRow(ctx, sel, duplicateID).Scan(&dupID, &dupUnionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	var (
		survID      int64
		survUnionID *string
	)
	err = tx.QueryRow(ctx, sel, survivorID).Scan(&survID, &survUnionID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		const reassign = `UPDATE user_mappings SET user_id=$1 WHERE id=$2`
		if _, err := tx.Exec(ctx, reassign, survivorID, dupID); err != nil {
			return err
		}
		report.MappingMoved = true
		return nil
	case err != nil:
		return err
	default:
		if survUnionID != nil && dupUnionID != nil && *survUnionID != *dupUnionID {
			return fmt.Errorf("user mapping: %w", errs.ErrFederationConflict)
		}
		// Survivor already mapped; the duplicate's mapping is redundant.
		const drop = `DELETE FROM user_mappings WHERE id=$1`
		_, err := tx.Exec(ctx, drop, dupID)
		return err
	}
}

func identitiesOf(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]mergeIdentity, error) {
	const q = `
SELECT id, provider, provider_uid, COALESCE(union_id, '')
FROM provider_identities WHERE user_id=$1 FOR UPDATE`
	rows, err := tx.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mergeIdentity
	for rows.Next() {
		var m mergeIdentity
		if err := rows.Scan(&m.id, &m.provider, &m.providerUID, &m.unionID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func identityOf(ctx context.Context, tx pgx.Tx, userID uuid.UUID, provider string) (mergeIdentity, error) {
	const q = `
SELECT id, provider, provider_uid, COALESCE(union_id, '')
FROM provider_identities WHERE user_id=$1 AND provider=$2 FOR UPDATE`
	var m mergeIdentity
	err := tx.QueryRow(ctx, q, userID, provider).Scan(&m.id, &m.provider, &m.providerUID, &m.unionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, errs.ErrNotFound
	}
	return m, err
}
