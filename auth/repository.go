package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/apperr"
)

var (
	ErrUserNotFound   = apperr.New(apperr.KindNotFound, "auth.user_not_found", errors.New("auth: user not found"))
	ErrMobileRequired = apperr.New(apperr.KindValidation, "auth.mobile_required", errors.New("auth: mobile required"))
)

// Repository handles users persistence.
type Repository interface {
	GetOrCreateUserID(ctx context.Context, name, mobile string) (int64, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	DeviceTokens(ctx context.Context, ids []int64) (map[int64]string, error)
	SetDeviceToken(ctx context.Context, id int64, token string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetOrCreateUserID returns the user owning mobile, creating a minimal row on
// first sight. A blank stored name is filled from name.
func (r *PGRepository) GetOrCreateUserID(ctx context.Context, name, mobile string) (int64, error) {
	mobile = NormalizeMobile(mobile)
	if mobile == "" {
		return 0, ErrMobileRequired
	}
	const q = `
INSERT INTO users (name, mobile)
VALUES ($1, $2)
ON CONFLICT (mobile) DO UPDATE
SET name = CASE WHEN users.name = '' THEN EXCLUDED.name ELSE users.name END
RETURNING id
`
	var id int64
	if err := r.pool.QueryRow(ctx, q, strings.TrimSpace(name), mobile).Scan(&id); err != nil {
		return 0, fmt.Errorf("auth: get or create user: %w", err)
	}
	return id, nil
}

func (r *PGRepository) GetUserByID(ctx context.Context, id int64) (User, error) {
	const q = `SELECT id, name, mobile, device_token, role, created_at FROM users WHERE id = $1`
	var u User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.Mobile, &u.DeviceToken, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return u, nil
}

// DeviceTokens returns push tokens for the given users; users without a token
// are absent from the map.
func (r *PGRepository) DeviceTokens(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, device_token FROM users WHERE id = ANY($1) AND device_token IS NOT NULL AND device_token <> ''`, ids)
	if err != nil {
		return nil, fmt.Errorf("auth: device tokens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			token string
		)
		if err := rows.Scan(&id, &token); err != nil {
			return nil, fmt.Errorf("auth: scan device token: %w", err)
		}
		out[id] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: iterate device tokens: %w", err)
	}
	return out, nil
}

func (r *PGRepository) SetDeviceToken(ctx context.Context, id int64, token string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET device_token = NULLIF($2, '') WHERE id = $1`, id, strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("auth: set device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
