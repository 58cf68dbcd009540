package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/channel-service/internal/domain"
)

// IdentityRepository defines persistence access for identities and their tokens.
// Lookups that find nothing return pgx.ErrNoRows.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByNameOrEmail(ctx context.Context, nameOrEmail string) (*domain.Identity, error)
	ExistsByNameOrEmail(ctx context.Context, name, email string) (bool, error)
	GetByTokenDigest(ctx context.Context, digest string, now time.Time) (*domain.Identity, time.Time, error)
	AppendToken(ctx context.Context, identityID, digest string, expire, loginAt time.Time) error
	TokenDigests(ctx context.Context, identityID string) ([]string, error)
	TouchLastAccess(ctx context.Context, identityID string, at time.Time) error
	AddRole(ctx context.Context, idOrName string, role domain.Role) (*domain.Identity, error)
}

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

const identityColumns = `id, name, email_address, email_verified, password_hash, roles, created_at, last_login, last_access`

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	const query = `
        INSERT INTO identities (id, name, email_address, email_verified, password_hash, roles, created_at, last_login, last_access)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := r.pool.Exec(ctx, query,
		identity.ID,
		identity.Name,
		identity.EmailAddress,
		identity.EmailVerified,
		identity.PasswordHash,
		rolesToStrings(identity.Roles),
		identity.CreatedAt,
		identity.LastLogin,
		identity.LastAccess,
	)
	return err
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id::text=$1`
	return scanIdentity(r.pool.QueryRow(ctx, query, id))
}

func (r *identityRepository) GetByNameOrEmail(ctx context.Context, nameOrEmail string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE name=$1 OR email_address=$1 LIMIT 1`
	return scanIdentity(r.pool.QueryRow(ctx, query, nameOrEmail))
}

func (r *identityRepository) ExistsByNameOrEmail(ctx context.Context, name, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM identities WHERE name=$1 OR email_address=$2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, name, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *identityRepository) GetByTokenDigest(ctx context.Context, digest string, now time.Time) (*domain.Identity, time.Time, error) {
	const query = `
        SELECT i.id, i.name, i.email_address, i.email_verified, i.password_hash, i.roles,
               i.created_at, i.last_login, i.last_access, t.expire
        FROM access_tokens t
        JOIN identities i ON i.id = t.identity_id
        WHERE t.digest=$1 AND t.expire >= $2`

	var (
		identity domain.Identity
		roles    []string
		expire   time.Time
	)
	if err := r.pool.QueryRow(ctx, query, digest, now).Scan(
		&identity.ID,
		&identity.Name,
		&identity.EmailAddress,
		&identity.EmailVerified,
		&identity.PasswordHash,
		&roles,
		&identity.CreatedAt,
		&identity.LastLogin,
		&identity.LastAccess,
		&expire,
	); err != nil {
		return nil, time.Time{}, err
	}
	identity.Roles = stringsToRoles(roles)
	return &identity, expire, nil
}

// AppendToken stores the token digest and records the login in one transaction.
func (r *identityRepository) AppendToken(ctx context.Context, identityID, digest string, expire, loginAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO access_tokens (digest, identity_id, expire) VALUES ($1,$2,$3)`,
		digest, identityID, expire,
	); err != nil {
		return err
	}

	cmd, err := tx.Exec(ctx, `UPDATE identities SET last_login=$1 WHERE id::text=$2`, loginAt, identityID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

func (r *identityRepository) TokenDigests(ctx context.Context, identityID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT digest FROM access_tokens WHERE identity_id::text=$1`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

func (r *identityRepository) TouchLastAccess(ctx context.Context, identityID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE identities SET last_access=$1 WHERE id::text=$2`, at, identityID)
	return err
}

func (r *identityRepository) AddRole(ctx context.Context, idOrName string, role domain.Role) (*domain.Identity, error) {
	query := `
        UPDATE identities
        SET roles = CASE WHEN $2::text = ANY(roles) THEN roles ELSE array_append(roles, $2::text) END
        WHERE id::text=$1 OR name=$1
        RETURNING ` + identityColumns

	return scanIdentity(r.pool.QueryRow(ctx, query, idOrName, string(role)))
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var (
		identity domain.Identity
		roles    []string
	)
	if err := row.Scan(
		&identity.ID,
		&identity.Name,
		&identity.EmailAddress,
		&identity.EmailVerified,
		&identity.PasswordHash,
		&roles,
		&identity.CreatedAt,
		&identity.LastLogin,
		&identity.LastAccess,
	); err != nil {
		return nil, err
	}
	identity.Roles = stringsToRoles(roles)
	return &identity, nil
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, string(role))
	}
	return out
}

// stringsToRoles drops values that are not part of the hierarchy.
func stringsToRoles(values []string) []domain.Role {
	roles := make([]domain.Role, 0, len(values))
	for _, v := range values {
		if role, err := domain.ParseRole(v); err == nil {
			roles = append(roles, role)
		}
	}
	return roles
}
