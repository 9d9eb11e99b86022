package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tenantstack/tenantstack/internal/model"
)

// auditRow is the flat scan target for the audit_log table; metadata is
// stored as a JSON blob.
type auditRow struct {
	ID             string          `db:"id"`
	OrganizationID *string         `db:"organization_id"`
	ActorType      model.ActorType `db:"actor_type"`
	ActorID        string          `db:"actor_id"`
	Action         string          `db:"action"`
	TargetType     string          `db:"target_type"`
	TargetID       string          `db:"target_id"`
	Success        bool            `db:"success"`
	IP             string          `db:"ip"`
	UserAgent      string          `db:"user_agent"`
	MetadataJSON   string          `db:"metadata_json"`
	CreatedAt      time.Time       `db:"created_at"`
}

// CreateAuditEntry persists one audit record. Callers treat failures as
// best-effort; this method still reports them so the recorder can log a
// warning.
func (s *Store) CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()

	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = string(b)
	}

	row := auditRow{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		ActorType:      e.ActorType,
		ActorID:        e.ActorID,
		Action:         e.Action,
		TargetType:     e.TargetType,
		TargetID:       e.TargetID,
		Success:        e.Success,
		IP:             e.IP,
		UserAgent:      e.UserAgent,
		MetadataJSON:   meta,
		CreatedAt:      e.CreatedAt,
	}

	const q = `INSERT INTO audit_log
		(id, organization_id, actor_type, actor_id, action, target_type, target_id, success, ip, user_agent, metadata_json, created_at)
		VALUES
		(:id, :organization_id, :actor_type, :actor_id, :action, :target_type, :target_id, :success, :ip, :user_agent, :metadata_json, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the organization's most recent audit entries.
func (s *Store) ListAuditEntries(ctx context.Context, orgID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		s.rebind(`SELECT * FROM audit_log WHERE organization_id = ? ORDER BY created_at DESC LIMIT ?`),
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	entries := make([]model.AuditEntry, len(rows))
	for i, r := range rows {
		var meta map[string]string
		_ = json.Unmarshal([]byte(r.MetadataJSON), &meta)
		entries[i] = model.AuditEntry{
			ID:             r.ID,
			OrganizationID: r.OrganizationID,
			ActorType:      r.ActorType,
			ActorID:        r.ActorID,
			Action:         r.Action,
			TargetType:     r.TargetType,
			TargetID:       r.TargetID,
			Success:        r.Success,
			IP:             r.IP,
			UserAgent:      r.UserAgent,
			Metadata:       meta,
			CreatedAt:      r.CreatedAt,
		}
	}
	return entries, nil
}
