package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/server/middleware"
	"github.com/tenantstack/tenantstack/internal/store"
)

type projectRequest struct {
	Name string `json:"name"`
}

// resolveCreator determines the user a write should be attributed to. For a
// user principal that is the user themselves; for an API key it is the key's
// creator, who must still exist and belong to the key's organization.
func (h *Handler) resolveCreator(w http.ResponseWriter, r *http.Request, tc *middleware.TenantContext) (string, bool) {
	if tc.Actor.Type == model.ActorUser {
		return tc.Actor.ID, true
	}

	principal := middleware.GetPrincipal(r.Context())
	if principal == nil || principal.APIKey == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}

	creator, err := h.store.GetUserByID(r.Context(), principal.APIKey.CreatedByID)
	if err != nil || creator.OrganizationID != tc.TenantID {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.internalError(w, r, err, "Internal server error")
			return "", false
		}
		writeError(w, http.StatusForbidden, "API key creator no longer exists or does not belong to the organization")
		return "", false
	}
	return creator.ID, true
}

// ListProjects returns the tenant's projects, newest first.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	projects, err := h.store.ListProjects(r.Context(), tc.TenantID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error while fetching projects")
		return
	}

	writeSuccess(w, http.StatusOK, "Projects retrieved successfully", projects)
}

// GetProject returns one project. A project in another organization is
// indistinguishable from a missing one.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	projectID := chi.URLParam(r, "projectId")
	if !validUUID(projectID) {
		writeValidationErrors(w, []model.FieldError{{Field: "projectId", Message: "Invalid project ID format"}})
		return
	}

	project, err := h.store.GetProject(r.Context(), tc.TenantID, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found or you do not have access to this project")
			return
		}
		h.internalError(w, r, err, "Internal server error while fetching project")
		return
	}

	writeSuccess(w, http.StatusOK, "Project retrieved successfully", project)
}

// CreateProject creates a project in the tenant. Names are unique per
// organization.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req projectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	if fe := validateProjectName(req.Name); fe != nil {
		writeValidationErrors(w, []model.FieldError{*fe})
		return
	}

	creatorID, ok := h.resolveCreator(w, r, tc)
	if !ok {
		return
	}

	// Soft pre-check; the unique constraint still catches the race below.
	if _, err := h.store.GetProjectByName(r.Context(), tc.TenantID, req.Name); err == nil {
		writeError(w, http.StatusConflict, "A project with this name already exists in your organization")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, err, "Internal server error while creating project")
		return
	}

	project := &model.Project{
		Name:           req.Name,
		OrganizationID: tc.TenantID,
		CreatedByID:    creatorID,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "A project with this name already exists in your organization")
			return
		}
		h.internalError(w, r, err, "Internal server error while creating project")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionProjectCreated,
		TargetType:     "Project",
		TargetID:       project.ID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"name": project.Name},
	})

	writeSuccess(w, http.StatusCreated, "Project created successfully", project)
}

// UpdateProject renames a project.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	projectID := chi.URLParam(r, "projectId")
	if !validUUID(projectID) {
		writeValidationErrors(w, []model.FieldError{{Field: "projectId", Message: "Invalid project ID format"}})
		return
	}

	var req projectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	if fe := validateProjectName(req.Name); fe != nil {
		writeValidationErrors(w, []model.FieldError{*fe})
		return
	}

	ctx := r.Context()
	if err := h.store.UpdateProjectName(ctx, tc.TenantID, projectID, req.Name); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Project not found or you do not have access to this project")
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "A project with this name already exists in your organization")
		default:
			h.internalError(w, r, err, "Internal server error while updating project")
		}
		return
	}

	project, err := h.store.GetProject(ctx, tc.TenantID, projectID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error while updating project")
		return
	}

	writeSuccess(w, http.StatusOK, "Project updated successfully", project)
}

// DeleteProject removes a project permanently.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	projectID := chi.URLParam(r, "projectId")
	if !validUUID(projectID) {
		writeValidationErrors(w, []model.FieldError{{Field: "projectId", Message: "Invalid project ID format"}})
		return
	}

	if err := h.store.DeleteProject(r.Context(), tc.TenantID, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Project not found or you do not have access to this project")
			return
		}
		h.internalError(w, r, err, "Internal server error while deleting project")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionProjectDeleted,
		TargetType:     "Project",
		TargetID:       projectID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})

	writeSuccess(w, http.StatusOK, "Project deleted successfully", nil)
}
