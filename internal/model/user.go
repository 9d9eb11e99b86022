package model

import "time"

// User is a member of exactly one organization. Passwords are stored as
// bcrypt hashes.
type User struct {
	ID             string    `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	PasswordHash   string    `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role           Role      `json:"role" db:"role"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// UserRef is the minimal user identity embedded in other resources.
type UserRef struct {
	ID    string `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
}
