package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

// fakeCredStore serves a fixed set of API keys and organizations.
type fakeCredStore struct {
	mu      sync.Mutex
	keys    map[string]*model.APIKey
	orgs    map[string]*model.Organization
	touched []string
}

func (f *fakeCredStore) GetAPIKeyByID(_ context.Context, id string) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[id]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeCredStore) ListActiveAPIKeys(_ context.Context, now time.Time) ([]model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.APIKey
	for _, k := range f.keys {
		if k.IsActive && !k.Expired(now) {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeCredStore) GetOrganizationByID(_ context.Context, id string) (*model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orgs[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeCredStore) TouchAPIKeyLastUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

// waitForTouch blocks until the fake records a last-used stamp for id. The
// stamp is written from a detached goroutine, so the test has to wait for it.
func waitForTouch(t *testing.T, cs *fakeCredStore, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cs.mu.Lock()
		for _, got := range cs.touched {
			if got == id {
				cs.mu.Unlock()
				return
			}
		}
		cs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("last_used stamp for key %s was never recorded", id)
}

type discardWriter struct{}

func (discardWriter) CreateAuditEntry(context.Context, *model.AuditEntry) error { return nil }

func testAuthenticator(t *testing.T, cs CredentialStore) (*Authenticator, *auth.TokenIssuer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer, err := auth.NewTokenIssuer("test-secret-for-middleware", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	rec := audit.NewRecorder(discardWriter{}, logger)
	return NewAuthenticator(issuer, cs, rec, logger), issuer
}

// echoPrincipal writes whichever principal variant was attached.
func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if p == nil {
		http.Error(w, "no principal", http.StatusInternalServerError)
		return
	}
	switch {
	case p.User != nil:
		w.Write([]byte("user:" + p.User.UserID))
	case p.APIKey != nil:
		w.Write([]byte("key:" + p.APIKey.KeyID))
	}
}

func decodeEnvelope(t *testing.T, body io.Reader) model.Response {
	t.Helper()
	var resp model.Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRequireBearerMissingHeader(t *testing.T) {
	a, _ := testAuthenticator(t, &fakeCredStore{})
	h := a.RequireBearer()(http.HandlerFunc(echoPrincipal))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	resp := decodeEnvelope(t, rr.Body)
	if resp.Success {
		t.Fatal("expected success=false")
	}
	if resp.Message != "Please login to continue." {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestRequireBearerInvalidToken(t *testing.T) {
	a, _ := testAuthenticator(t, &fakeCredStore{})
	h := a.RequireBearer()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if msg := decodeEnvelope(t, rr.Body).Message; msg != "Invalid or expired token" {
		t.Fatalf("message = %q", msg)
	}
}

func TestRequireBearerValidToken(t *testing.T) {
	a, issuer := testAuthenticator(t, &fakeCredStore{})
	h := a.RequireBearer()(http.HandlerFunc(echoPrincipal))

	token, err := issuer.Issue("u1", "dev@example.com", model.RoleManager, "org1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "user:u1" {
		t.Fatalf("principal = %q, want user:u1", got)
	}
}

func TestRequireAPIKeyStructurallyInvalid(t *testing.T) {
	cs := &fakeCredStore{keys: map[string]*model.APIKey{}}
	a, _ := testAuthenticator(t, cs)
	h := a.RequireAPIKey()(http.HandlerFunc(echoPrincipal))

	for _, secret := range []string{"ts_short", "nope", "ts_" + "zz" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"} {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		req.Header.Set("Authorization", "ApiKey "+secret)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: status = %d, want 401", secret, rr.Code)
		}
	}
}

func TestRequireAPIKeyIDBound(t *testing.T) {
	keyID := uuid.NewString()
	secret, err := auth.GenerateBoundSecret(keyID)
	if err != nil {
		t.Fatalf("GenerateBoundSecret: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	cs := &fakeCredStore{
		keys: map[string]*model.APIKey{
			keyID: {ID: keyID, Name: "ci", KeyHash: hash, OrganizationID: "org1", IsActive: true},
		},
		orgs: map[string]*model.Organization{
			"org1": {ID: "org1", Name: "Acme"},
		},
	}
	a, _ := testAuthenticator(t, cs)
	h := a.RequireAPIKey()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "ApiKey "+secret)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "key:"+keyID {
		t.Fatalf("principal = %q", got)
	}
	waitForTouch(t, cs, keyID)
}

func TestRequireAPIKeyLegacyScan(t *testing.T) {
	secret, err := auth.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	keyID := uuid.NewString()
	cs := &fakeCredStore{
		keys: map[string]*model.APIKey{
			keyID: {ID: keyID, Name: "legacy", KeyHash: hash, OrganizationID: "org1", IsActive: true},
		},
		orgs: map[string]*model.Organization{"org1": {ID: "org1", Name: "Acme"}},
	}
	a, _ := testAuthenticator(t, cs)
	h := a.RequireAPIKey()(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "ApiKey "+secret)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}
	waitForTouch(t, cs, keyID)
}

func TestRequireAPIKeyRevokedAndExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	revokedID := uuid.NewString()
	revokedSecret, _ := auth.GenerateBoundSecret(revokedID)
	revokedHash, _ := auth.HashSecret(revokedSecret)

	expiredID := uuid.NewString()
	expiredSecret, _ := auth.GenerateBoundSecret(expiredID)
	expiredHash, _ := auth.HashSecret(expiredSecret)

	cs := &fakeCredStore{
		keys: map[string]*model.APIKey{
			revokedID: {ID: revokedID, KeyHash: revokedHash, OrganizationID: "org1", IsActive: false},
			expiredID: {ID: expiredID, KeyHash: expiredHash, OrganizationID: "org1", IsActive: true, ExpiresAt: &past},
		},
	}
	a, _ := testAuthenticator(t, cs)
	h := a.RequireAPIKey()(http.HandlerFunc(echoPrincipal))

	for name, secret := range map[string]string{"revoked": revokedSecret, "expired": expiredSecret} {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		req.Header.Set("Authorization", "ApiKey "+secret)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s key: status = %d, want 401", name, rr.Code)
		}
	}
}

func TestRequireFlexibleDispatch(t *testing.T) {
	keyID := uuid.NewString()
	secret, _ := auth.GenerateBoundSecret(keyID)
	hash, _ := auth.HashSecret(secret)
	cs := &fakeCredStore{
		keys: map[string]*model.APIKey{
			keyID: {ID: keyID, KeyHash: hash, OrganizationID: "org1", IsActive: true},
		},
		orgs: map[string]*model.Organization{"org1": {ID: "org1", Name: "Acme"}},
	}
	a, issuer := testAuthenticator(t, cs)
	h := a.RequireFlexible()(http.HandlerFunc(echoPrincipal))

	token, _ := issuer.Issue("u1", "a@b.c", model.RoleAdmin, "org1")

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"bearer", "Bearer " + token, http.StatusOK, "user:u1"},
		{"apikey", "ApiKey " + secret, http.StatusOK, "key:" + keyID},
		{"missing", "", http.StatusUnauthorized, ""},
		{"unknown scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.status)
		}
		if tc.body != "" && rr.Body.String() != tc.body {
			t.Fatalf("%s: body = %q, want %q", tc.name, rr.Body.String(), tc.body)
		}
	}
}

func TestRequireRoles(t *testing.T) {
	gate := RequireRoles(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// No principal at all.
	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", rr.Code)
	}

	// Wrong role.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{User: &UserPrincipal{UserID: "u1", Role: model.RoleEmployee}}))
	rr = httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("employee: status = %d, want 403", rr.Code)
	}

	// API-key principal is denied on role-gated routes.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{APIKey: &APIKeyPrincipal{KeyID: "k1"}}))
	rr = httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("api key: status = %d, want 403", rr.Code)
	}

	// Matching role passes.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{User: &UserPrincipal{UserID: "u1", Role: model.RoleAdmin}}))
	rr = httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("admin: status = %d, want 204", rr.Code)
	}
}

func TestRequireRolesOrAPIKey(t *testing.T) {
	gate := RequireRolesOrAPIKey(model.RoleAdmin, model.RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// API-key principal passes through.
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{APIKey: &APIKeyPrincipal{KeyID: "k1"}}))
	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("api key: status = %d, want 204", rr.Code)
	}

	// Employee user is still denied.
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(withPrincipal(req.Context(), &Principal{User: &UserPrincipal{UserID: "u1", Role: model.RoleEmployee}}))
	rr = httptest.NewRecorder()
	gate.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("employee: status = %d, want 403", rr.Code)
	}
}

func TestSplitCredential(t *testing.T) {
	cases := []struct {
		in     string
		scheme string
		value  string
		ok     bool
	}{
		{"Bearer abc", "bearer", "abc", true},
		{"BEARER abc", "bearer", "abc", true},
		{"ApiKey ts_123", "apikey", "ts_123", true},
		{"Bearer  spaced  ", "bearer", "spaced", true},
		{"Bearer", "", "", false},
		{"Bearer ", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		scheme, value, ok := splitCredential(tc.in)
		if scheme != tc.scheme || value != tc.value || ok != tc.ok {
			t.Fatalf("splitCredential(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, scheme, value, ok, tc.scheme, tc.value, tc.ok)
		}
	}
}
