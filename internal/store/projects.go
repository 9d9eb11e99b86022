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

// CreateProject inserts a new project. Names are unique per organization;
// a collision returns ErrDuplicate.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	const q = `INSERT INTO projects (id, name, organization_id, created_by_id, created_at, updated_at)
		VALUES (:id, :name, :organization_id, :created_by_id, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject fetches one project, scoped to the organization. A project in
// another tenant is indistinguishable from a missing one.
func (s *Store) GetProject(ctx context.Context, orgID, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p,
		s.rebind(`SELECT * FROM projects WHERE id = ? AND organization_id = ?`), id, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// GetProjectByName fetches a project by name within the organization.
func (s *Store) GetProjectByName(ctx context.Context, orgID, name string) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p,
		s.rebind(`SELECT * FROM projects WHERE organization_id = ? AND name = ?`), orgID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return &p, nil
}

// ListProjects returns the organization's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, orgID string) ([]model.Project, error) {
	var projects []model.Project
	err := s.db.SelectContext(ctx, &projects,
		s.rebind(`SELECT * FROM projects WHERE organization_id = ? ORDER BY created_at DESC`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectName renames a project within the organization.
func (s *Store) UpdateProjectName(ctx context.Context, orgID, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE projects SET name = ?, updated_at = ? WHERE id = ? AND organization_id = ?`),
		name, time.Now().UTC(), id, orgID)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project within the organization.
func (s *Store) DeleteProject(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM projects WHERE id = ? AND organization_id = ?`), id, orgID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
