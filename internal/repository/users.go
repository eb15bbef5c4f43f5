package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
)

// ErrAdminExists is returned by CreateInitialAdmin once any admin is registered.
var ErrAdminExists = errors.New("an admin already exists")

// serializes bootstrap registrations, see CreateInitialAdmin
const initialAdminLockKey = 7_340_021

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT name, email, mobile, password_hash, role, created_at
		FROM users WHERE id = $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	user := &domain.User{
		ID: id,
	}

	dst := []any{&user.Name, &user.Email, &user.Mobile, &user.PasswordHash, &user.Role, &user.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, name, mobile, password_hash, role, created_at
		FROM users WHERE email = $1
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	user := &domain.User{
		Email: email,
	}

	dst := []any{&user.ID, &user.Name, &user.Mobile, &user.PasswordHash, &user.Role, &user.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, email).Scan(dst...); err != nil {
		return nil, err
	}

	return user, nil
}

// GetAllAgents returns the roster ordered by id.
func (r *Repository) GetAllAgents(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT id, name, email, mobile, password_hash, role, created_at
		FROM users WHERE role = $1
		ORDER BY id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, domain.RoleAgent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user := &domain.User{}
		dst := []any{&user.ID, &user.Name, &user.Email, &user.Mobile, &user.PasswordHash, &user.Role, &user.CreatedAt}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	query := `
		INSERT INTO users (name, email, mobile, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	args := []any{user.Name, user.Email, user.Mobile, user.PasswordHash, user.Role}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.CreatedAt); err != nil {
		return err
	}

	return nil
}

// CreateInitialAdmin inserts user as an admin only if no admin exists yet.
// Concurrent callers are serialized on an advisory lock so at most one wins.
func (r *Repository) CreateInitialAdmin(ctx context.Context, user *domain.User) error {
	ctx, cancel := r.transactionContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, initialAdminLockKey); err != nil {
		return err
	}

	exists := false
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)`
	if err := tx.QueryRowContext(ctx, query, domain.RoleAdmin).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrAdminExists
	}

	user.Role = domain.RoleAdmin
	query = `
		INSERT INTO users (name, email, mobile, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	args := []any{user.Name, user.Email, user.Mobile, user.PasswordHash, user.Role}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) AdminExists(ctx context.Context) (bool, error) {
	exists := false

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	query := `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)`
	if err := r.dbpool.QueryRowContext(ctx, query, domain.RoleAdmin).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// DeleteAgent removes an agent account. Admin accounts are never matched and
// yield sql.ErrNoRows like a missing id. Assignments already handed to the
// agent are left in place.
func (r *Repository) DeleteAgent(ctx context.Context, id int64) error {
	query := `
		DELETE FROM users WHERE id = $1 AND role = $2
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	result, err := r.dbpool.ExecContext(ctx, query, id, domain.RoleAgent)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
