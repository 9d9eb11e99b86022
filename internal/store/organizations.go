package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenantstack/tenantstack/internal/model"
)

// Organizations are only ever created through RegisterUser, atomically with
// their founding admin; a standalone insert would leave an ownerless org.

// GetOrganizationByID fetches one organization by primary key.
func (s *Store) GetOrganizationByID(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org, s.rebind(`SELECT * FROM organizations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// GetOrganizationBySlug fetches one organization by its URL slug.
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org, s.rebind(`SELECT * FROM organizations WHERE slug = ?`), slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization by slug: %w", err)
	}
	return &org, nil
}

// SetOrganizationOwner records the owning user. The owner can never be
// deleted through the user-management API.
func (s *Store) SetOrganizationOwner(ctx context.Context, orgID, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE organizations SET owner_id = ?, updated_at = ? WHERE id = ?`),
		ownerID, time.Now().UTC(), orgID)
	if err != nil {
		return fmt.Errorf("set organization owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
