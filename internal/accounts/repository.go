package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accountd/accountd/internal/platform/db"
)

// Repository defines persistence operations for the accounts module.
type Repository interface {
	Create(ctx context.Context, name, email, passwordHash string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByName(ctx context.Context, name string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, id int64, changes Changes) error
	Delete(ctx context.Context, id int64) error
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, created_at, updated_at`

// Create inserts a new account. Existence checks and the insert share one
// transaction; the unique constraints are the actual enforcement and their
// violations map to the same conflict errors as the pre-checks.
func (r *PGRepository) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	var user User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var taken bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1)`, name).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrNameTaken
		}
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO accounts (name, email, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
			name, email, passwordHash)
		return scanUser(row, &user)
	})
	if err != nil {
		return nil, mapConstraintErr(err)
	}
	return &user, nil
}

// FindByID fetches an account by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findBy(ctx, `id = $1`, id)
}

// FindByName fetches an account by its unique name.
func (r *PGRepository) FindByName(ctx context.Context, name string) (*User, error) {
	return r.findBy(ctx, `name = $1`, name)
}

// FindByEmail fetches an account by its unique email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findBy(ctx, `email = $1`, email)
}

func (r *PGRepository) findBy(ctx context.Context, where string, arg any) (*User, error) {
	var user User
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM accounts WHERE `+where, arg)
	if err := scanUser(row, &user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Update applies the requested changes as a single UPDATE. Collision checks
// exclude the target's own row, so setting a field to its current value is a
// permitted no-op.
func (r *PGRepository) Update(ctx context.Context, id int64, changes Changes) error {
	if changes.Empty() {
		return nil
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var taken bool
		if changes.Name != "" {
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1 AND id <> $2)`, changes.Name, id).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return ErrNameTaken
			}
		}
		if changes.Email != "" {
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1 AND id <> $2)`, changes.Email, id).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return ErrEmailTaken
			}
		}
		tag, err := tx.Exec(ctx,
			`UPDATE accounts
			 SET name = COALESCE(NULLIF($2, ''), name),
			     email = COALESCE(NULLIF($3, ''), email),
			     password_hash = COALESCE(NULLIF($4, ''), password_hash),
			     updated_at = now()
			 WHERE id = $1`,
			id, changes.Name, changes.Email, changes.PasswordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	return mapConstraintErr(err)
}

// Delete removes the account; session records cascade with it.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateSession persists a login session record.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO account_sessions (id, account_id, created_at, expires_at, ip, ua)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET account_id = EXCLUDED.account_id, expires_at = EXCLUDED.expires_at`,
		id, userID,
		pgtype.Timestamptz{Time: now, Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""})
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE id = $1`, id)
	return err
}

func scanUser(row pgx.Row, user *User) error {
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &createdAt, &updatedAt); err != nil {
		return err
	}
	user.CreatedAt = createdAt.Time
	user.UpdatedAt = updatedAt.Time
	return nil
}

// mapConstraintErr converts unique-constraint violations raced past the
// pre-checks into the matching conflict error.
func mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "accounts_name_key":
			return ErrNameTaken
		case "accounts_email_key":
			return ErrEmailTaken
		}
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
