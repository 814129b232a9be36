package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/audit"
	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
)

type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	Role         auth.Role
	PasswordHash string
	IsActive     bool
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, full_name, role, password_hash, is_active
		FROM users WHERE lower(email) = lower($1)
	`, email).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.IsActive)
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// UpsertUser creates or refreshes a staff account keyed by email.
func (s *Store) UpsertUser(ctx context.Context, email, fullName string, role auth.Role, passwordHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ((lower(email))) DO UPDATE
		SET full_name = EXCLUDED.full_name, role = EXCLUDED.role, password_hash = EXCLUDED.password_hash, is_active = TRUE
		RETURNING id
	`, email, fullName, string(role), passwordHash).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert user: %w", err)
	}
	return id, nil
}

type NewSession struct {
	UserID    uuid.UUID
	TokenHash string
	CSRFToken string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, params NewSession) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, token_hash, csrf_token, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id
	`, params.UserID, params.TokenHash, params.CSRFToken, params.IPAddress, params.UserAgent, params.ExpiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetSessionPrincipal resolves a live session by token hash.
func (s *Store) GetSessionPrincipal(ctx context.Context, tokenHash string) (auth.Principal, error) {
	var p auth.Principal
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, u.id, u.email, u.full_name, u.role, s.csrf_token, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
			AND s.revoked_at IS NULL
			AND s.expires_at > now()
			AND u.is_active
	`, tokenHash).Scan(&p.SessionID, &p.UserID, &p.Email, &p.FullName, &p.Role, &p.CSRFToken, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Principal{}, auth.ErrInvalidSession
		}
		return auth.Principal{}, fmt.Errorf("select session: %w", err)
	}
	return p, nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE sessions SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Store) InsertAuditLog(ctx context.Context, record audit.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, request_id, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
	`, record.UserID, record.Action, record.EntityType, record.EntityID, record.RequestID, record.Metadata)
	return err
}
