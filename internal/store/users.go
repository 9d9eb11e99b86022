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

// CreateUser inserts a new user. ID and timestamps are populated on u after
// a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (id, email, password_hash, role, organization_id, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :role, :organization_id, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// RegisterUser atomically creates a user and, when org.ID is empty, the
// organization it owns. For a new organization the user becomes its owner;
// for an existing one the user simply joins.
func (s *Store) RegisterUser(ctx context.Context, u *model.User, org *model.Organization) error {
	newOrg := org.ID == ""
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback()

	if newOrg {
		org.ID = uuid.NewString()
		org.CreatedAt = now
		org.UpdatedAt = now
		const qOrg = `INSERT INTO organizations (id, name, slug, owner_id, created_at, updated_at)
			VALUES (:id, :name, :slug, :owner_id, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, qOrg, org); err != nil {
			if isDuplicateErr(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("create organization: %w", err)
		}
	}

	u.ID = uuid.NewString()
	u.OrganizationID = org.ID
	u.CreatedAt = now
	u.UpdatedAt = now
	const qUser = `INSERT INTO users (id, email, password_hash, role, organization_id, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :role, :organization_id, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, qUser, u); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}

	if newOrg {
		org.OwnerID = u.ID
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE organizations SET owner_id = ? WHERE id = ?`), u.ID, org.ID); err != nil {
			return fmt.Errorf("set organization owner: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

// GetUserByID fetches one user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind(`SELECT * FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail fetches one user by email (globally unique).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind(`SELECT * FROM users WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsersByOrganization returns all users in one organization, oldest first.
func (s *Store) ListUsersByOrganization(ctx context.Context, orgID string) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users,
		s.rebind(`SELECT * FROM users WHERE organization_id = ? ORDER BY created_at`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role.
func (s *Store) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`),
		role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user and every project they created in one
// transaction. Projects must not outlive their creator with a dangling
// created_by_id.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM projects WHERE created_by_id = ?`), id); err != nil {
		return fmt.Errorf("delete user projects: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user tx: %w", err)
	}
	return nil
}
