package repo

import (
	"context"
	"database/sql"
	"errors"

	"teamline/internal/domain"
)

// Repo wraps raw SQL access. Methods that must observe an in-flight
// transaction take a DBTX so the engine can pass its *sql.Tx.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- profiles ---

func (r Repo) UpsertProfile(ctx context.Context, q DBTX, p domain.Profile) error {
	_, err := q.ExecContext(ctx, `INSERT INTO profiles(id,email,handle,display_name,avatar_url,completed,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  email=CASE WHEN excluded.email <> '' THEN excluded.email ELSE profiles.email END,
  display_name=CASE WHEN excluded.display_name IS NOT NULL THEN excluded.display_name ELSE profiles.display_name END,
  avatar_url=CASE WHEN excluded.avatar_url IS NOT NULL THEN excluded.avatar_url ELSE profiles.avatar_url END,
  updated_at=excluded.updated_at`,
		p.ID, p.Email, p.Handle, nullable(p.DisplayName), nullable(p.AvatarURL), boolToInt(p.Completed), p.CreatedAt, p.UpdatedAt)
	return err
}

func scanProfile(row *sql.Row) (domain.Profile, error) {
	var p domain.Profile
	var displayName, avatar sql.NullString
	var completed int
	err := row.Scan(&p.ID, &p.Email, &p.Handle, &displayName, &avatar, &completed, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.DisplayName = displayName.String
	p.AvatarURL = avatar.String
	p.Completed = completed != 0
	return p, nil
}

const profileCols = `id,email,handle,display_name,avatar_url,completed,created_at,updated_at`

func (r Repo) GetProfile(ctx context.Context, q DBTX, id string) (domain.Profile, error) {
	return scanProfile(q.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id=?`, id))
}

func (r Repo) GetProfileByHandle(ctx context.Context, q DBTX, handle string) (domain.Profile, error) {
	return scanProfile(q.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE handle=?`, handle))
}

func (r Repo) ProfileExists(ctx context.Context, q DBTX, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) SetProfileCompleted(ctx context.Context, q DBTX, id, displayName, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE profiles SET completed=1, display_name=COALESCE(?,display_name), updated_at=? WHERE id=?`,
		nullable(displayName), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HandleTaken reports whether a handle is already claimed by another profile.
func (r Repo) HandleTaken(ctx context.Context, q DBTX, handle, excludeID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE handle=? AND id<>? LIMIT 1`, handle, excludeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
