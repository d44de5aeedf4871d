package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"auditdesk.org/internal/auth"
)

var _ auth.UserStore = (*Users)(nil)

const userColumns = `id, email, password_hash, role, is_active, created_at, updated_at`

// Users implements auth.UserStore.
type Users struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u    auth.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (s *Users) findOne(ctx context.Context, query string, arg any) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Users) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where email = $1`, auth.NormalizeEmail(email))
}

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	u.Email = auth.NormalizeEmail(u.Email)
	err := s.db.QueryRowContext(ctx, `
		insert into users (email, password_hash, role, is_active)
		values ($1, $2, $3, $4)
		returning id, created_at, updated_at
	`, u.Email, u.PasswordHash, string(u.Role), u.IsActive).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Users) List(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at desc, id desc`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

func (s *Users) Count(ctx context.Context) (int64, int64, error) {
	var total, active int64
	err := s.db.QueryRowContext(ctx,
		`select count(*), count(*) filter (where is_active) from users`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	return total, active, nil
}

// ToggleActive flips the flag in one statement so concurrent toggles serialize on the row lock.
func (s *Users) ToggleActive(ctx context.Context, id int64) (*auth.User, error) {
	return s.findOne(ctx, `
		update users
		set is_active = not is_active, updated_at = now()
		where id = $1
		returning `+userColumns, id)
}
