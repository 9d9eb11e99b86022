package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tenantstack/tenantstack/internal/model"
)

// CreateAPIKey inserts a new API key record. The caller may pre-assign the
// ID (the id-bound secret format needs the id before the hash exists); when
// empty a fresh UUID is generated.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.IsActive = true
	key.CreatedAt = now
	key.UpdatedAt = now

	const q = `INSERT INTO api_keys
		(id, name, key_hash, organization_id, created_by_id, is_active, expires_at, last_used_at, created_at, updated_at)
		VALUES
		(:id, :name, :key_hash, :organization_id, :created_by_id, :is_active, :expires_at, :last_used_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByID fetches one key by primary key, unscoped. Used by the
// id-bound verification path, which learns the tenant from the row itself.
func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key, s.rebind(`SELECT * FROM api_keys WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyForOrg fetches one key scoped to the organization.
func (s *Store) GetAPIKeyForOrg(ctx context.Context, orgID, id string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key,
		s.rebind(`SELECT * FROM api_keys WHERE id = ? AND organization_id = ?`), id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// FindActiveAPIKeyByName returns the organization's active key with the given
// name, if any. This backs the soft uniqueness check at creation time; two
// concurrent creations with the same name can still race past it.
func (s *Store) FindActiveAPIKeyByName(ctx context.Context, orgID, name string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key,
		s.rebind(`SELECT * FROM api_keys WHERE organization_id = ? AND name = ? AND is_active = ?`),
		orgID, name, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find api key by name: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all of the organization's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := s.db.SelectContext(ctx, &keys,
		s.rebind(`SELECT * FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListActiveAPIKeys returns every active, unexpired key across all tenants.
// This feeds the legacy O(N) scan-and-verify authentication path.
func (s *Store) ListActiveAPIKeys(ctx context.Context, now time.Time) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := s.db.SelectContext(ctx, &keys,
		s.rebind(`SELECT * FROM api_keys WHERE is_active = ? AND (expires_at IS NULL OR expires_at > ?)`),
		true, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active api keys: %w", err)
	}
	return keys, nil
}

// RotateAPIKey replaces the key hash and clears last_used_at, preserving the
// row identity (id, name, created_at).
func (s *Store) RotateAPIKey(ctx context.Context, orgID, id, newHash string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE api_keys SET key_hash = ?, last_used_at = NULL, updated_at = ?
			WHERE id = ? AND organization_id = ? AND is_active = ?`),
		newHash, time.Now().UTC(), id, orgID, true)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKey deactivates a key. Revocation is one-way: there is no
// un-revoke through this interface.
func (s *Store) RevokeAPIKey(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND organization_id = ? AND is_active = ?`),
		false, time.Now().UTC(), id, orgID, true)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes a key permanently (no tombstone).
func (s *Store) DeleteAPIKey(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM api_keys WHERE id = ? AND organization_id = ?`), id, orgID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed stamps last_used_at. Called fire-and-forget after a
// successful key authentication; a failure here never fails the request.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
