package model

import "time"

// Project is a tenant-scoped resource. Names are unique per organization.
type Project struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	CreatedByID    string    `json:"created_by_id" db:"created_by_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
