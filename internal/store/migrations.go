package store

import (
	"fmt"
	"strings"
)

// dialect holds the column types that differ between the supported drivers.
// IDs are UUID strings everywhere, so TEXT-class columns keep the schema
// portable.
type dialect struct {
	timestamp string
	boolean   string
	text      string
	boolTrue  string // literal for a true default
}

func dialectFor(driver string) dialect {
	switch driver {
	case "postgres":
		return dialect{timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN", text: "TEXT", boolTrue: "TRUE"}
	case "mysql":
		return dialect{timestamp: "DATETIME(6)", boolean: "TINYINT(1)", text: "VARCHAR(255)", boolTrue: "1"}
	default: // sqlite
		return dialect{timestamp: "DATETIME", boolean: "INTEGER", text: "TEXT", boolTrue: "1"}
	}
}

func (s *Store) migrate() error {
	d := dialectFor(s.driver)

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS organizations (
			id %[2]s PRIMARY KEY,
			name %[2]s NOT NULL,
			slug %[2]s UNIQUE NOT NULL,
			owner_id %[2]s NOT NULL DEFAULT '',
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL
		)`, d.timestamp, d.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %[2]s PRIMARY KEY,
			email %[2]s UNIQUE NOT NULL,
			password_hash %[2]s NOT NULL,
			role %[2]s NOT NULL,
			organization_id %[2]s NOT NULL REFERENCES organizations(id),
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL
		)`, d.timestamp, d.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
			id %[2]s PRIMARY KEY,
			name %[2]s NOT NULL,
			organization_id %[2]s NOT NULL REFERENCES organizations(id),
			created_by_id %[2]s NOT NULL,
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL,
			UNIQUE (organization_id, name)
		)`, d.timestamp, d.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_keys (
			id %[2]s PRIMARY KEY,
			name %[2]s NOT NULL,
			key_hash %[2]s NOT NULL,
			organization_id %[2]s NOT NULL REFERENCES organizations(id),
			created_by_id %[2]s NOT NULL,
			is_active %[3]s NOT NULL DEFAULT %[4]s,
			expires_at %[1]s,
			last_used_at %[1]s,
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL
		)`, d.timestamp, d.text, d.boolean, d.boolTrue),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log (
			id %[2]s PRIMARY KEY,
			organization_id %[2]s,
			actor_type %[2]s NOT NULL,
			actor_id %[2]s NOT NULL,
			action %[2]s NOT NULL,
			target_type %[2]s NOT NULL DEFAULT '',
			target_id %[2]s NOT NULL DEFAULT '',
			success %[3]s NOT NULL,
			ip %[2]s NOT NULL DEFAULT '',
			user_agent %[2]s NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at %[1]s NOT NULL
		)`, d.timestamp, d.text, d.boolean),

		`CREATE INDEX IF NOT EXISTS idx_users_org ON users(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_org ON projects(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_log(organization_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL has no IF NOT EXISTS for CREATE INDEX; treat duplicates
			// as a no-op so migrations stay idempotent.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
