package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation   = "23505"
	pqNotNullViolation  = "23502"
	pqCheckViolation    = "23514"
	pqStringTooLong     = "22001"
	pqForeignKeyMissing = "23503"
)

const userColumns = `id, login, email, role, first_name, last_name, display_name, nickname, url, description, created_at`

// PostgresStore keeps accounts in the users and user_meta tables.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// ExistsByEmail matches emails case-insensitively.
func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`

	if err := s.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}

	return exists, nil
}

func (s *PostgresStore) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE login = $1)`

	if err := s.db.GetContext(ctx, &exists, query, login); err != nil {
		return false, fmt.Errorf("failed to check login: %w", err)
	}

	return exists, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) FindByLogin(ctx context.Context, login string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE login = $1`, login)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	if err := s.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts the user and returns its ID. Unique violations map to
// ErrDuplicate, constraint violations to ErrInvalidUser.
func (s *PostgresStore) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	query := `
		INSERT INTO users (
			login, email, password_hash, role,
			first_name, last_name, display_name, nickname, url, description,
			created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			NOW()
		)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		u.Login, u.Email, u.PasswordHash, u.Role,
		u.FirstName, u.LastName, u.DisplayName, u.Nickname, u.URL, u.Description,
	).Scan(&id)
	if err != nil {
		return 0, mapWriteError("failed to create user", err)
	}

	s.logger.Debug("User created",
		slog.Int64("user_id", id),
		slog.String("login", u.Login),
	)

	return id, nil
}

// SetMeta upserts one metadata value.
func (s *PostgresStore) SetMeta(ctx context.Context, userID int64, key, value string) error {
	query := `
		INSERT INTO user_meta (user_id, meta_key, meta_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, meta_key)
		DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, userID, key, value); err != nil {
		return mapWriteError(fmt.Sprintf("failed to set meta %q", key), err)
	}

	return nil
}

func mapWriteError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: %s", msg, ErrDuplicate, pqErr.Constraint)
		case pqNotNullViolation, pqCheckViolation, pqStringTooLong:
			return fmt.Errorf("%s: %w: %s", msg, ErrInvalidUser, pqErr.Message)
		case pqForeignKeyMissing:
			return fmt.Errorf("%s: %w", msg, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
