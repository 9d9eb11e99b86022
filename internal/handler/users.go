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

type changeRoleRequest struct {
	NewRole string `json:"newRole"`
}

// ListOrganizationUsers returns every member of the admin's organization.
func (h *Handler) ListOrganizationUsers(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	users, err := h.store.ListUsersByOrganization(r.Context(), tc.TenantID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error while retrieving organization users")
		return
	}

	writeSuccess(w, http.StatusOK, "Organization users retrieved successfully", users)
}

// ChangeUserRole moves a member between MANAGER and EMPLOYEE. Admins cannot
// change their own role, promote anyone to ADMIN through this endpoint, or
// touch users in other organizations.
func (h *Handler) ChangeUserRole(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	userID := chi.URLParam(r, "userId")
	if !validUUID(userID) {
		writeValidationErrors(w, []model.FieldError{{Field: "userId", Message: "Invalid user ID format"}})
		return
	}

	var req changeRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	newRole := model.Role(strings.ToUpper(strings.TrimSpace(req.NewRole)))
	if newRole != model.RoleManager && newRole != model.RoleEmployee {
		writeValidationErrors(w, []model.FieldError{{
			Field:   "newRole",
			Message: "newRole must be one of: MANAGER, EMPLOYEE",
		}})
		return
	}

	ctx := r.Context()

	target, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.internalError(w, r, err, "Internal server error while changing user role")
		return
	}

	if userID == tc.Actor.ID {
		writeError(w, http.StatusBadRequest, "You cannot change your own role")
		return
	}
	if target.OrganizationID != tc.TenantID {
		writeError(w, http.StatusForbidden, "Cannot modify users from other organizations")
		return
	}

	if err := h.store.UpdateUserRole(ctx, userID, newRole); err != nil {
		h.internalError(w, r, err, "Internal server error while changing user role")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAdminChangeRole,
		TargetType:     "User",
		TargetID:       userID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"newRole": string(newRole)},
	})

	updated, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error while changing user role")
		return
	}

	writeSuccess(w, http.StatusOK, "User role successfully changed to "+string(newRole),
		map[string]interface{}{"user": updated})
}

// DeleteUser removes a member from the organization. Self-deletion and
// deleting the organization owner are rejected.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	userID := chi.URLParam(r, "userId")
	if !validUUID(userID) {
		writeValidationErrors(w, []model.FieldError{{Field: "userId", Message: "Invalid user ID format"}})
		return
	}

	if userID == tc.Actor.ID {
		writeError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	ctx := r.Context()

	target, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.internalError(w, r, err, "Internal server error while deleting user")
		return
	}

	if target.OrganizationID != tc.TenantID {
		writeError(w, http.StatusForbidden, "Cannot delete users from other organizations")
		return
	}

	org, err := h.store.GetOrganizationByID(ctx, tc.TenantID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error while deleting user")
		return
	}
	if org.OwnerID == userID {
		writeError(w, http.StatusBadRequest, "Cannot delete the organization owner. Transfer ownership first.")
		return
	}

	deletedInfo := map[string]interface{}{
		"id":             target.ID,
		"email":          target.Email,
		"role":           target.Role,
		"organizationId": target.OrganizationID,
	}

	if err := h.store.DeleteUser(ctx, userID); err != nil {
		h.internalError(w, r, err, "Internal server error while deleting user")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAdminDeleteUser,
		TargetType:     "User",
		TargetID:       userID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"deletedUserEmail": target.Email},
	})

	writeSuccess(w, http.StatusOK, "User and their created projects deleted successfully",
		map[string]interface{}{"deletedUser": deletedInfo})
}
