package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"campusiam.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

// PGStore implements UserStore using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ UserStore = (*PGStore)(nil)

// NewPGStore constructs a Postgres-backed user store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, name, email, password_hash, role, disabled, mfa_status, coalesce(mfa_secret, ''), coalesce(reset_token, ''), reset_expires, created_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = NormalizeEmail(u.Email)
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, role, disabled, mfa_status, mfa_secret, reset_token, reset_expires)
		values ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''), nullif($9, ''), $10)
		returning created_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Disabled,
		string(u.MFA.Status), u.MFA.Secret, u.ResetToken, nullTime(u.ResetExpiry))
	if err := row.Scan(&u.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

func (s *PGStore) Update(ctx context.Context, u *User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	u.Email = NormalizeEmail(u.Email)
	res, err := s.db.ExecContext(ctx, `
		update users
		set name = $2, email = $3, password_hash = $4, role = $5, disabled = $6,
		    mfa_status = $7, mfa_secret = nullif($8, ''), reset_token = nullif($9, ''), reset_expires = $10
		where id = $1
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Disabled,
		string(u.MFA.Status), u.MFA.Secret, u.ResetToken, nullTime(u.ResetExpiry))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, filter ListFilter) ([]*User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	filter = filter.normalized()
	offset := (filter.Page - 1) * filter.Limit

	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where ($1 = '' or name ilike '%' || $1 || '%' or email ilike '%' || $1 || '%')
		order by created_at asc, id asc
		limit $2 offset $3
	`, filter.Search, filter.Limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u           User
		role        string
		mfaStatus   string
		resetExpiry sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Disabled,
		&mfaStatus, &u.MFA.Secret, &u.ResetToken, &resetExpiry, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.MFA.Status = MFAStatus(mfaStatus)
	if resetExpiry.Valid {
		u.ResetExpiry = resetExpiry.Time
	}
	return &u, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
