package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

type contextKeyAuth string

// principalKey is the context key for the authenticated principal.
const principalKey contextKeyAuth = "auth_principal"

// UserPrincipal is the identity resolved from a verified bearer token.
type UserPrincipal struct {
	UserID         string
	Email          string
	Role           model.Role
	OrganizationID string
}

// APIKeyPrincipal is the identity resolved from a verified API key.
type APIKeyPrincipal struct {
	KeyID            string
	OrganizationID   string
	OrganizationName string
	CreatedByID      string
	KeyName          string
}

// Principal is the resolved identity for one request. Exactly one variant is
// ever set; the authorization decision always uses a single principal.
type Principal struct {
	User   *UserPrincipal
	APIKey *APIKeyPrincipal
}

// OrganizationID returns the tenant the principal belongs to, whichever
// variant is set.
func (p *Principal) OrganizationID() string {
	if p.User != nil {
		return p.User.OrganizationID
	}
	if p.APIKey != nil {
		return p.APIKey.OrganizationID
	}
	return ""
}

// CredentialStore is the slice of the durable store the authenticator needs.
type CredentialStore interface {
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListActiveAPIKeys(ctx context.Context, now time.Time) ([]model.APIKey, error)
	GetOrganizationByID(ctx context.Context, id string) (*model.Organization, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
}

// Authenticator resolves a request's credential into a Principal. It accepts
// two mutually exclusive schemes on the Authorization header:
//
//	Bearer <token>   signed JWT for interactive users
//	ApiKey <secret>  opaque machine credential, ts_-prefixed
//
// Every rejection and every successful API-key use is reported to the audit
// recorder asynchronously.
type Authenticator struct {
	tokens   *auth.TokenIssuer
	store    CredentialStore
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewAuthenticator wires the token verifier, credential store, and audit
// recorder together.
func NewAuthenticator(tokens *auth.TokenIssuer, st CredentialStore, recorder *audit.Recorder, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, store: st, recorder: recorder, logger: logger}
}

// splitCredential parses the Authorization header into a lowercased scheme
// and its value. The scheme is case-insensitive; the value must be non-empty.
func splitCredential(header string) (scheme, value string, ok bool) {
	trimmed := strings.TrimSpace(header)
	rawScheme, rest, found := strings.Cut(trimmed, " ")
	if !found {
		return "", "", false
	}
	value = strings.TrimSpace(rest)
	if value == "" {
		return "", "", false
	}
	return strings.ToLower(rawScheme), value, true
}

// RequireBearer returns a middleware that only accepts Bearer tokens.
func (a *Authenticator) RequireBearer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.bearer(w, r, next)
		})
	}
}

// RequireAPIKey returns a middleware that only accepts ApiKey credentials.
func (a *Authenticator) RequireAPIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.apiKey(w, r, next)
		})
	}
}

// RequireFlexible returns a middleware that dispatches on the credential
// scheme, accepting either a Bearer token or an API key.
func (a *Authenticator) RequireFlexible() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, _, ok := splitCredential(r.Header.Get("Authorization"))
			if !ok {
				a.reject(w, r, http.StatusUnauthorized,
					"Authentication required. Provide 'Bearer <token>' or 'ApiKey <key>'.")
				return
			}
			switch scheme {
			case "bearer":
				a.bearer(w, r, next)
			case "apikey":
				a.apiKey(w, r, next)
			default:
				a.reject(w, r, http.StatusUnauthorized,
					"Unsupported authorization scheme. Provide 'Bearer <token>' or 'ApiKey <key>'.")
			}
		})
	}
}

func (a *Authenticator) bearer(w http.ResponseWriter, r *http.Request, next http.Handler) {
	scheme, token, ok := splitCredential(r.Header.Get("Authorization"))
	if !ok || scheme != "bearer" {
		a.reject(w, r, http.StatusUnauthorized, "Please login to continue.")
		return
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		a.reject(w, r, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	principal := &Principal{User: &UserPrincipal{
		UserID:         claims.UserID,
		Email:          claims.Email,
		Role:           claims.Role,
		OrganizationID: claims.OrganizationID,
	}}
	next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
}

func (a *Authenticator) apiKey(w http.ResponseWriter, r *http.Request, next http.Handler) {
	scheme, secret, ok := splitCredential(r.Header.Get("Authorization"))
	if !ok || scheme != "apikey" {
		a.reject(w, r, http.StatusUnauthorized, "API key required.")
		return
	}

	// Cheap structural check before any store round-trip.
	if !auth.ValidSecretFormat(secret) {
		a.reject(w, r, http.StatusUnauthorized, "Invalid or expired API key")
		return
	}

	key, err := a.verifyKey(r.Context(), secret)
	if err != nil {
		a.logger.Error("api key verification failed", "error", err, "path", r.URL.Path)
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if key == nil {
		a.recorder.Record(&model.AuditEntry{
			ActorType: model.ActorAPIKey,
			Action:    model.ActionAPIKeyAuthFailed,
			Success:   false,
			IP:        audit.ClientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]string{"path": r.URL.Path, "method": r.Method},
		})
		a.writeError(w, http.StatusUnauthorized, "Invalid or expired API key")
		return
	}

	// Best-effort last-used stamp; not transactional with the decision.
	keyID := key.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchAPIKeyLastUsed(ctx, keyID); err != nil {
			a.logger.Warn("last_used update failed", "key_id", keyID, "error", err)
		}
	}()

	orgName := ""
	if org, err := a.store.GetOrganizationByID(r.Context(), key.OrganizationID); err == nil {
		orgName = org.Name
	}

	a.recorder.Record(&model.AuditEntry{
		OrganizationID: &key.OrganizationID,
		ActorType:      model.ActorAPIKey,
		ActorID:        key.ID,
		Action:         model.ActionAPIKeyAuthSuccess,
		TargetType:     "ApiKey",
		TargetID:       key.ID,
		Success:        true,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       map[string]string{"path": r.URL.Path, "method": r.Method},
	})

	principal := &Principal{APIKey: &APIKeyPrincipal{
		KeyID:            key.ID,
		OrganizationID:   key.OrganizationID,
		OrganizationName: orgName,
		CreatedByID:      key.CreatedByID,
		KeyName:          key.Name,
	}}
	next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
}

// verifyKey resolves a structurally valid secret to its active key record.
// An id-bound secret costs one row lookup plus one bcrypt compare; a legacy
// secret falls back to scanning the active set, short-circuiting on the
// first match. Returns (nil, nil) when no key matches.
func (a *Authenticator) verifyKey(ctx context.Context, secret string) (*model.APIKey, error) {
	now := time.Now()

	if id, ok := auth.BoundKeyID(secret); ok {
		key, err := a.store.GetAPIKeyByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !key.IsActive || key.Expired(now) {
			return nil, nil
		}
		if !auth.VerifySecret(secret, key.KeyHash) {
			return nil, nil
		}
		return key, nil
	}

	keys, err := a.store.ListActiveAPIKeys(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if auth.VerifySecret(secret, keys[i].KeyHash) {
			return &keys[i], nil
		}
	}
	return nil, nil
}

// reject terminates the request with an audited 401/403.
func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, status int, message string) {
	a.recorder.Record(&model.AuditEntry{
		Action:    model.ActionAuthRejected,
		Success:   false,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]string{"path": r.URL.Path, "method": r.Method, "reason": message},
	})
	a.writeError(w, status, message)
}

func (a *Authenticator) writeError(w http.ResponseWriter, status int, message string) {
	writeAuthError(w, status, message)
}

// RequireRoles returns a gate that rejects requests whose user principal's
// role is outside the allowed set. It must run after an authenticator.
// API-key principals carry no role and are denied here; routes that accept
// machine credentials use RequireRolesOrAPIKey instead.
func RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Please login to continue.")
				return
			}
			if principal.User == nil || !principal.User.Role.In(allowed...) {
				writeAuthError(w, http.StatusForbidden, "You are not authorized to access this resource.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRolesOrAPIKey behaves like RequireRoles for user principals but
// passes API-key principals through unchanged.
func RequireRolesOrAPIKey(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Please login to continue.")
				return
			}
			if principal.APIKey != nil {
				next.ServeHTTP(w, r)
				return
			}
			if principal.User == nil || !principal.User.Role.In(allowed...) {
				writeAuthError(w, http.StatusForbidden, "You are not authorized to access this resource.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly gates a route to ADMIN users.
func AdminOnly() func(http.Handler) http.Handler {
	return RequireRoles(model.RoleAdmin)
}

// ManagerOrAdmin gates a route to MANAGER and ADMIN users.
func ManagerOrAdmin() func(http.Handler) http.Handler {
	return RequireRoles(model.RoleManager, model.RoleAdmin)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// writeAuthError writes the uniform failure envelope. JSON is built by hand
// to avoid an import cycle with the handler package.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg, _ := json.Marshal(message)
	w.Write([]byte(`{"success":false,"message":` + string(msg) + `}`))
}
