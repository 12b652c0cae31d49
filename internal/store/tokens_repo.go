package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTokenNotFound is returned when no token matches the account/service key.
var ErrTokenNotFound = errors.New("token not found")

// TokenRecord is the persisted form of one account's authorization material.
// One row per (account_email, service_type).
type TokenRecord struct {
	ID           string     `json:"id"`
	AccountEmail string     `json:"account_email"`
	ServiceType  string     `json:"service_type"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	TokenType    string     `json:"token_type"`
	Scope        *string    `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ProfileName  *string    `json:"profile_name,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UpsertToken stores rec keyed by (account_email, service_type):
// read-before-write, updating the existing row (created_at preserved) or
// inserting a fresh one. Every re-authentication overwrites the previous
// token material.
func (s *Store) UpsertToken(ctx context.Context, rec *TokenRecord) error {
	now := time.Now().UTC()

	var existingID string
	var createdAt string
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, created_at FROM oauth_tokens
		WHERE account_email = ? AND service_type = ?
	`, rec.AccountEmail, rec.ServiceType).Scan(&existingID, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO oauth_tokens (id, account_email, service_type, access_token, refresh_token,
				token_type, scope, expires_at, profile_name, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.AccountEmail, rec.ServiceType, rec.AccessToken, nullableString(rec.RefreshToken),
			rec.TokenType, nullableString(rec.Scope), nullableTime(rec.ExpiresAt),
			nullableString(rec.ProfileName), boolToInt(rec.Active),
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup token: %w", err)
	}

	rec.ID = existingID
	if t, perr := parseTime(createdAt); perr == nil {
		rec.CreatedAt = t
	}
	rec.UpdatedAt = now
	_, err = s.DB.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = ?, refresh_token = ?, token_type = ?, scope = ?,
			expires_at = ?, profile_name = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, rec.AccessToken, nullableString(rec.RefreshToken), rec.TokenType, nullableString(rec.Scope),
		nullableTime(rec.ExpiresAt), nullableString(rec.ProfileName), boolToInt(rec.Active),
		now.Format(time.RFC3339Nano), existingID)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}

// GetToken fetches the token for one account/service pair.
func (s *Store) GetToken(ctx context.Context, accountEmail, serviceType string) (*TokenRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, account_email, service_type, access_token, refresh_token,
			token_type, scope, expires_at, profile_name, active, created_at, updated_at
		FROM oauth_tokens
		WHERE account_email = ? AND service_type = ?
	`, accountEmail, serviceType)
	return scanToken(row)
}

// ListTokens returns all stored tokens ordered by account.
func (s *Store) ListTokens(ctx context.Context) ([]*TokenRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, account_email, service_type, access_token, refresh_token,
			token_type, scope, expires_at, profile_name, active, created_at, updated_at
		FROM oauth_tokens
		ORDER BY account_email, service_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var recs []*TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*TokenRecord, error) {
	var rec TokenRecord
	var refreshToken, scope, expiresAt, profileName sql.NullString
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.AccountEmail, &rec.ServiceType, &rec.AccessToken, &refreshToken,
		&rec.TokenType, &scope, &expiresAt, &profileName, &active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}

	rec.RefreshToken = scanNullableString(refreshToken)
	rec.Scope = scanNullableString(scope)
	rec.ProfileName = scanNullableString(profileName)
	rec.Active = active != 0
	if rec.ExpiresAt, err = scanNullableTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
