package model

import "time"

// APIKey is a long-lived machine credential scoped to an organization.
// The raw secret is never stored; only a bcrypt hash is persisted.
// Revocation (is_active = false) is one-way through the API; rotation
// replaces the hash and clears last_used_at while preserving the row
// identity.
type APIKey struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	KeyHash        string     `json:"-" db:"key_hash"` // bcrypt hash, never expose
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	CreatedByID    string     `json:"created_by_id" db:"created_by_id"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the key has a deadline in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
