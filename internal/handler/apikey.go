package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/server/middleware"
	"github.com/tenantstack/tenantstack/internal/store"
)

type createKeyRequest struct {
	Name           string `json:"name"`
	ExpiresInHours int    `json:"expiresInHours,omitempty"`
}

// apiKeyPayload is the key representation returned by every key endpoint.
// KeyHash is always masked; the plaintext secret appears only in APIKey, and
// only in create and rotate responses.
type apiKeyPayload struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	KeyHash    string         `json:"keyHash"`
	APIKey     string         `json:"apiKey,omitempty"`
	IsActive   bool           `json:"isActive"`
	ExpiresAt  *time.Time     `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time     `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	CreatedBy  *model.UserRef `json:"createdBy,omitempty"`
}

func keyPayload(k *model.APIKey, createdBy *model.UserRef) apiKeyPayload {
	return apiKeyPayload{
		ID:         k.ID,
		Name:       k.Name,
		KeyHash:    auth.MaskSecret(k.KeyHash),
		IsActive:   k.IsActive,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
		CreatedBy:  createdBy,
	}
}

// CreateAPIKey mints a new id-bound key for the admin's organization. The
// plaintext secret is returned exactly once. Key names are soft-unique among
// the organization's active keys.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	if fe := validateKeyName(req.Name); fe != nil {
		writeValidationErrors(w, []model.FieldError{*fe})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInHours > 0 {
		lifetime := time.Duration(req.ExpiresInHours) * time.Hour
		if h.keyExpiryCap > 0 && lifetime > h.keyExpiryCap {
			writeValidationErrors(w, []model.FieldError{{
				Field:   "expiresInHours",
				Message: "Requested expiry exceeds the configured maximum key lifetime",
			}})
			return
		}
		t := time.Now().UTC().Add(lifetime)
		expiresAt = &t
	} else if req.ExpiresInHours < 0 {
		writeValidationErrors(w, []model.FieldError{{
			Field:   "expiresInHours",
			Message: "expiresInHours must be a positive number",
		}})
		return
	}

	ctx := r.Context()

	if _, err := h.store.FindActiveAPIKeyByName(ctx, tc.TenantID, req.Name); err == nil {
		writeError(w, http.StatusConflict, "An API key with this name already exists in your organization")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	// The record id is minted first so the secret can embed it.
	keyID := uuid.NewString()
	secret, err := auth.GenerateBoundSecret(keyID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	key := &model.APIKey{
		ID:             keyID,
		Name:           req.Name,
		KeyHash:        hash,
		OrganizationID: tc.TenantID,
		CreatedByID:    tc.Actor.ID,
		ExpiresAt:      expiresAt,
	}
	if err := h.store.CreateAPIKey(ctx, key); err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAPIKeyCreated,
		TargetType:     "ApiKey",
		TargetID:       key.ID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"name": key.Name},
	})

	payload := keyPayload(key, &model.UserRef{ID: tc.Actor.ID, Email: tc.Actor.Email})
	payload.KeyHash = auth.MaskSecret(secret)
	payload.APIKey = secret
	writeSuccess(w, http.StatusCreated, "API key created successfully", payload)
}

// ListAPIKeys returns every key in the organization, newest first, with hash
// material masked.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	ctx := r.Context()
	keys, err := h.store.ListAPIKeys(ctx, tc.TenantID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	creators := map[string]model.UserRef{}
	if users, err := h.store.ListUsersByOrganization(ctx, tc.TenantID); err == nil {
		for _, u := range users {
			creators[u.ID] = model.UserRef{ID: u.ID, Email: u.Email}
		}
	}

	out := make([]apiKeyPayload, 0, len(keys))
	for i := range keys {
		var ref *model.UserRef
		if c, ok := creators[keys[i].CreatedByID]; ok {
			ref = &c
		}
		out = append(out, keyPayload(&keys[i], ref))
	}

	writeSuccess(w, http.StatusOK, "API keys retrieved successfully", out)
}

// RevokeAPIKey deactivates a key permanently. Revocation is one-way; a
// revoked key can be rotated back into service only by creating a new key.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keyID := chi.URLParam(r, "keyId")
	if !validUUID(keyID) {
		writeValidationErrors(w, []model.FieldError{{Field: "keyId", Message: "Invalid API key ID format"}})
		return
	}

	ctx := r.Context()
	key, err := h.store.GetAPIKeyForOrg(ctx, tc.TenantID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found or you do not have permission to revoke it")
			return
		}
		h.internalError(w, r, err, "Internal server error")
		return
	}
	if !key.IsActive {
		writeError(w, http.StatusBadRequest, "API key is already revoked")
		return
	}

	if err := h.store.RevokeAPIKey(ctx, tc.TenantID, keyID); err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAPIKeyRevoked,
		TargetType:     "ApiKey",
		TargetID:       keyID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"name": key.Name},
	})

	writeSuccess(w, http.StatusOK, "API key revoked successfully", nil)
}

// RotateAPIKey replaces an active key's secret in place. The id and name are
// preserved; the old secret stops verifying immediately.
func (h *Handler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keyID := chi.URLParam(r, "keyId")
	if !validUUID(keyID) {
		writeValidationErrors(w, []model.FieldError{{Field: "keyId", Message: "Invalid API key ID format"}})
		return
	}

	ctx := r.Context()
	key, err := h.store.GetAPIKeyForOrg(ctx, tc.TenantID, keyID)
	if err != nil || !key.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.internalError(w, r, err, "Internal server error")
			return
		}
		writeError(w, http.StatusNotFound, "Active API key not found or you do not have permission to rotate it")
		return
	}

	secret, err := auth.GenerateBoundSecret(keyID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	if err := h.store.RotateAPIKey(ctx, tc.TenantID, keyID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Active API key not found or you do not have permission to rotate it")
			return
		}
		h.internalError(w, r, err, "Internal server error")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAPIKeyRotated,
		TargetType:     "ApiKey",
		TargetID:       keyID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"name": key.Name},
	})

	rotated, err := h.store.GetAPIKeyForOrg(ctx, tc.TenantID, keyID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}
	payload := keyPayload(rotated, &model.UserRef{ID: tc.Actor.ID, Email: tc.Actor.Email})
	payload.KeyHash = auth.MaskSecret(secret)
	payload.APIKey = secret
	writeSuccess(w, http.StatusOK,
		"API key rotated successfully. Please update your applications with the new key.", payload)
}

// DeleteAPIKey removes a key record outright. Prefer revoke when an audit
// trail of the key's existence should survive.
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	tc := middleware.GetTenant(r.Context())
	if tc == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keyID := chi.URLParam(r, "keyId")
	if !validUUID(keyID) {
		writeValidationErrors(w, []model.FieldError{{Field: "keyId", Message: "Invalid API key ID format"}})
		return
	}

	ctx := r.Context()
	key, err := h.store.GetAPIKeyForOrg(ctx, tc.TenantID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found or you do not have permission to delete it")
			return
		}
		h.internalError(w, r, err, "Internal server error")
		return
	}

	if err := h.store.DeleteAPIKey(ctx, tc.TenantID, keyID); err != nil {
		h.internalError(w, r, err, "Internal server error")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &tc.TenantID,
		ActorType:      tc.Actor.Type,
		ActorID:        tc.Actor.ID,
		Action:         model.ActionAPIKeyDeleted,
		TargetType:     "ApiKey",
		TargetID:       keyID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"name": key.Name},
	})

	writeSuccess(w, http.StatusOK, "API key deleted successfully", nil)
}
