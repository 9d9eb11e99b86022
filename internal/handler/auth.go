package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

type registerRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	OrganizationName string `json:"organizationName"`
	NewOrg           bool   `json:"newOrg"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authUserPayload is the user block returned by register and login.
type authUserPayload struct {
	ID           string                `json:"id"`
	Email        string                `json:"email"`
	Role         model.Role            `json:"role"`
	Organization model.OrganizationRef `json:"organization"`
}

// Register creates an account. With newOrg=true the caller founds a new
// organization and becomes its ADMIN owner; otherwise the caller joins the
// named organization as EMPLOYEE.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)

	var errs []model.FieldError
	if fe := validateEmail(req.Email); fe != nil {
		errs = append(errs, *fe)
	}
	if fe := validatePassword(req.Password); fe != nil {
		errs = append(errs, *fe)
	}
	if fe := validateOrganizationName(req.OrganizationName); fe != nil {
		errs = append(errs, *fe)
	}
	if len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	ctx := r.Context()

	if existing, err := h.store.GetUserByEmail(ctx, req.Email); err == nil {
		h.recorder.Record(&model.AuditEntry{
			Action:     model.ActionRegisterConflict,
			Success:    false,
			TargetType: "User",
			TargetID:   existing.ID,
			IP:         audit.ClientIP(r),
			UserAgent:  r.UserAgent(),
			Metadata:   map[string]string{"email": req.Email},
		})
		writeError(w, http.StatusConflict, "User already exists with this email")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, err, "Internal server error during registration")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(w, r, err, "Internal server error during registration")
		return
	}

	slug := model.Slugify(req.OrganizationName)
	existingOrg, err := h.store.GetOrganizationBySlug(ctx, slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, err, "Internal server error during registration")
		return
	}
	orgExists := err == nil

	if req.NewOrg && orgExists {
		h.recorder.Record(&model.AuditEntry{
			Action:     model.ActionOrgNameConflict,
			Success:    false,
			TargetType: "Organization",
			TargetID:   existingOrg.ID,
			IP:         audit.ClientIP(r),
			UserAgent:  r.UserAgent(),
			Metadata:   map[string]string{"name": req.OrganizationName, "slug": slug},
		})
		writeError(w, http.StatusConflict, "Organization name already exists. Please choose a different name.")
		return
	}
	if !req.NewOrg && !orgExists {
		h.recorder.Record(&model.AuditEntry{
			Action:     model.ActionOrgNotFoundForJoin,
			Success:    false,
			TargetType: "Organization",
			Metadata:   map[string]string{"name": req.OrganizationName, "slug": slug},
			IP:         audit.ClientIP(r),
			UserAgent:  r.UserAgent(),
		})
		writeError(w, http.StatusNotFound, "Organization does not exist. Pass newOrg=true to create it.")
		return
	}

	user := &model.User{Email: req.Email, PasswordHash: hash}
	var org *model.Organization
	if req.NewOrg {
		user.Role = model.RoleAdmin
		org = &model.Organization{Name: req.OrganizationName, Slug: slug}
	} else {
		user.Role = model.RoleEmployee
		org = existingOrg
	}

	if err := h.store.RegisterUser(ctx, user, org); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "User already exists with this email")
			return
		}
		h.recorder.Record(&model.AuditEntry{
			Action:     model.ActionRegisterFailed,
			Success:    false,
			TargetType: "User",
			IP:         audit.ClientIP(r),
			UserAgent:  r.UserAgent(),
			Metadata:   map[string]string{"email": req.Email},
		})
		h.internalError(w, r, err, "Internal server error during registration")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Email, user.Role, org.ID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error during registration")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &org.ID,
		ActorType:      model.ActorUser,
		ActorID:        user.ID,
		Action:         model.ActionRegisterSuccess,
		TargetType:     "User",
		TargetID:       user.ID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"email": user.Email, "role": string(user.Role)},
	})
	if req.NewOrg {
		h.recorder.Record(&model.AuditEntry{
			OrganizationID: &org.ID,
			ActorType:      model.ActorUser,
			ActorID:        user.ID,
			Action:         model.ActionOrgCreated,
			TargetType:     "Organization",
			TargetID:       org.ID,
			Success:        true,
			IP:             audit.ClientIP(r),
			UserAgent:      r.UserAgent(),
			Metadata:       map[string]string{"name": org.Name, "slug": org.Slug},
		})
	}

	message := "User registered successfully and added to organization"
	if req.NewOrg {
		message = "User registered successfully and organization created"
	}
	writeSuccess(w, http.StatusCreated, message, map[string]interface{}{
		"token": token,
		"user": authUserPayload{
			ID:    user.ID,
			Email: user.Email,
			Role:  user.Role,
			Organization: model.OrganizationRef{
				ID:   org.ID,
				Name: org.Name,
				Slug: org.Slug,
			},
		},
	})
}

// Login verifies credentials and mints a bearer token. Unknown email and
// wrong password are indistinguishable to the caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var errs []model.FieldError
	if !emailRe.MatchString(req.Email) {
		errs = append(errs, model.FieldError{Field: "email", Message: "Please provide a valid email address"})
	}
	if req.Password == "" {
		errs = append(errs, model.FieldError{Field: "password", Message: "Password is required"})
	}
	if len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	ctx := r.Context()

	user, err := h.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.loginFailed(r, req.Email)
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.internalError(w, r, err, "Internal server error during login")
		return
	}

	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		h.loginFailed(r, req.Email)
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	org, err := h.store.GetOrganizationByID(ctx, user.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, "User is not associated with any organization")
			return
		}
		h.internalError(w, r, err, "Internal server error during login")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Email, user.Role, user.OrganizationID)
	if err != nil {
		h.internalError(w, r, err, "Internal server error during login")
		return
	}

	h.recorder.Record(&model.AuditEntry{
		OrganizationID: &user.OrganizationID,
		ActorType:      model.ActorUser,
		ActorID:        user.ID,
		Action:         model.ActionLoginSuccess,
		TargetType:     "User",
		TargetID:       user.ID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})

	writeSuccess(w, http.StatusOK, "Login successful", map[string]interface{}{
		"token": token,
		"user": authUserPayload{
			ID:    user.ID,
			Email: user.Email,
			Role:  user.Role,
			Organization: model.OrganizationRef{
				ID:   org.ID,
				Name: org.Name,
				Slug: org.Slug,
			},
		},
	})
}

func (h *Handler) loginFailed(r *http.Request, email string) {
	h.recorder.Record(&model.AuditEntry{
		Action:     model.ActionLoginFailed,
		Success:    false,
		TargetType: "User",
		IP:         audit.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Metadata:   map[string]string{"email": email},
	})
}

// Logout is stateless: tokens cannot be revoked server-side, so the endpoint
// only confirms that the client should discard its copy.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK,
		"Logged out successfully. Please remove the token from client storage.", nil)
}
