package model

import "time"

// ActorType identifies what kind of principal performed an audited action.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAPIKey ActorType = "API_KEY"
)

// AuditEntry records one security-relevant event. Writes are best-effort:
// a failed audit write never fails the primary operation.
type AuditEntry struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID *string           `json:"organization_id,omitempty" db:"organization_id"`
	ActorType      ActorType         `json:"actor_type" db:"actor_type"`
	ActorID        string            `json:"actor_id" db:"actor_id"`
	Action         string            `json:"action" db:"action"`
	TargetType     string            `json:"target_type" db:"target_type"`
	TargetID       string            `json:"target_id" db:"target_id"`
	Success        bool              `json:"success" db:"success"`
	IP             string            `json:"ip" db:"ip"`
	UserAgent      string            `json:"user_agent" db:"user_agent"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Audit action names. These mirror the event vocabulary consumed by the
// audit log reporting pipeline; renaming one is a breaking change.
const (
	ActionLoginSuccess        = "AUTH_LOGIN_SUCCESS"
	ActionLoginFailed         = "AUTH_LOGIN_FAILED"
	ActionRegisterSuccess     = "USER_REGISTER_SUCCESS"
	ActionRegisterConflict    = "USER_REGISTER_CONFLICT"
	ActionRegisterFailed      = "USER_REGISTER_FAILED"
	ActionOrgCreated          = "ORGANIZATION_CREATED"
	ActionOrgNameConflict     = "ORGANIZATION_NAME_CONFLICT"
	ActionOrgNotFoundForJoin  = "ORGANIZATION_NOT_FOUND_FOR_JOIN"
	ActionAPIKeyCreated       = "API_KEY_CREATED"
	ActionAPIKeyRevoked       = "API_KEY_REVOKED"
	ActionAPIKeyRotated       = "API_KEY_ROTATED"
	ActionAPIKeyDeleted       = "API_KEY_DELETED"
	ActionAPIKeyAuthSuccess   = "API_KEY_AUTH_SUCCESS"
	ActionAPIKeyAuthFailed    = "API_KEY_AUTH_FAILED"
	ActionAuthRejected        = "AUTH_REJECTED"
	ActionAdminChangeRole     = "ADMIN_CHANGE_ROLE"
	ActionAdminDeleteUser     = "ADMIN_DELETE_USER"
	ActionProjectCreated      = "PROJECT_CREATED"
	ActionProjectDeleted      = "PROJECT_DELETED"
)
