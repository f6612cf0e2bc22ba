// Package pg implements the identity credential store on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mallhive.org/internal/identity"
)

type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

// Open connects to Postgres with pool settings tuned for the identity service.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateUser(ctx context.Context, user *identity.User) (*identity.User, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	stored := *user
	stored.Email = email

	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, verified, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, stored.ID, stored.Username, stored.Email, stored.PasswordHash, stored.Verified, stored.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return nil, identity.ErrEmailTaken
			}
			return nil, identity.ErrUsernameTaken
		}
		return nil, err
	}
	return &stored, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*identity.User, error) {
	var user identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, verified, created_at
		from users where email=$1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Verified, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) MarkVerified(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `update users set verified=true where id=$1`, userID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash=$2 where id=$1`, userID, passwordHash)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// IssueCode supersedes any prior active code for the slot and inserts the new
// one inside a single transaction, so the partial unique index on the active
// slot never sees two live rows.
func (s *Store) IssueCode(ctx context.Context, code *identity.Code) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update credential_codes set superseded=true
		where user_id=$1 and purpose=$2 and consumed_at is null and not superseded
	`, code.UserID, code.Purpose); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into credential_codes(id, user_id, purpose, code, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, code.ID, code.UserID, code.Purpose, code.Value, code.IssuedAt, code.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

// ConsumeCode is a single compare-and-mark statement: the row is only updated
// while it is still ACTIVE, so concurrent verifies race on one atomic UPDATE
// and at most one of them succeeds.
func (s *Store) ConsumeCode(ctx context.Context, userID string, purpose identity.Purpose, presented string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update credential_codes set consumed_at=$5
		where user_id=$1 and purpose=$2 and code=$3
		  and consumed_at is null and not superseded and expires_at >= $4
	`, userID, purpose, presented, now, now)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrInvalidCode
	}
	return nil
}

func (s *Store) SlotState(ctx context.Context, userID string, purpose identity.Purpose, now time.Time) (identity.CodeState, error) {
	var code identity.Code
	var consumedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select issued_at, expires_at, consumed_at, superseded
		from credential_codes
		where user_id=$1 and purpose=$2
		order by issued_at desc limit 1
	`, userID, purpose).Scan(&code.IssuedAt, &code.ExpiresAt, &consumedAt, &code.Superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.CodeNone, nil
	}
	if err != nil {
		return identity.CodeNone, err
	}
	if consumedAt.Valid {
		code.ConsumedAt = consumedAt.Time
	}
	return code.State(now), nil
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}
