package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-trip-api/internal/models"
)

const selectUser = `SELECT id, username, password_hash, full_name, role, active, last_login, created_at, updated_at FROM users`

// UserRepository reads operator accounts. Accounts are provisioned by migration
// or by hand; the API never creates them.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) getOne(ctx context.Context, what, where string, arg interface{}) (*models.User, error) {
	var user models.User
	err := noRowsOnMalformedKey(r.db.GetContext(ctx, &user, selectUser+` WHERE `+where+` LIMIT 1`, arg))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, sql.ErrNoRows
	case err != nil:
		return nil, fmt.Errorf("find user by %s: %w", what, err)
	}
	return &user, nil
}

// FindByUsername looks a login name up case-insensitively.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", `LOWER(username) = LOWER($1)`, username)
}

// FindByID returns the account with the given id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id", `id = $1`, id)
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
