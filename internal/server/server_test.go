package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "Sup3r$ecret!"
)

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *store.Store
}

// newTestEnv creates a fresh environment backed by an in-memory SQLite store
// and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open("", "") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tokens, err := auth.NewTokenIssuer(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("auth.NewTokenIssuer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := DefaultConfig()
	cfg.LoginRatePerMin = 1000 // tests share one client IP
	srv := New(cfg, st, tokens, logger)
	t.Cleanup(srv.Recorder().Drain)

	return &testEnv{server: srv, store: st}
}

// do executes an HTTP request against the test server.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doBearer executes a request authenticated with a bearer token.
func (e *testEnv) doBearer(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes a request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, key string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "ApiKey " + key,
	})
}

// register creates an account and returns the token and envelope data.
func (e *testEnv) register(t *testing.T, email, orgName string, newOrg bool) (string, map[string]interface{}) {
	t.Helper()
	body := jsonBody(t, map[string]interface{}{
		"email":            email,
		"password":         testPassword,
		"organizationName": orgName,
		"newOrg":           newOrg,
	})
	rr := e.do(t, "POST", "/api/auth/register", body, nil)
	assertStatus(t, rr, http.StatusCreated)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	data := resp.Data.(map[string]interface{})
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("register: empty token")
	}
	return token, data
}

// createKey mints an API key as the given admin and returns its id and
// plaintext secret.
func (e *testEnv) createKey(t *testing.T, adminToken, name string) (string, string) {
	t.Helper()
	rr := e.doBearer(t, "POST", "/api/manage-keys/", jsonBody(t, map[string]string{"name": name}), adminToken)
	assertStatus(t, rr, http.StatusCreated)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	data := resp.Data.(map[string]interface{})
	id, _ := data["id"].(string)
	secret, _ := data["apiKey"].(string)
	if id == "" || secret == "" {
		t.Fatalf("createKey: incomplete response %v", data)
	}
	return id, secret
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health checks
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

// ---------------------------------------------------------------------------
// Registration and login
// ---------------------------------------------------------------------------

func TestRegisterNewOrganizationGrantsAdmin(t *testing.T) {
	env := newTestEnv(t)

	_, data := env.register(t, "founder@acme.test", "Acme", true)

	user := data["user"].(map[string]interface{})
	if user["role"] != "ADMIN" {
		t.Errorf("role = %v, want ADMIN", user["role"])
	}
	org := user["organization"].(map[string]interface{})
	if org["slug"] != "acme" {
		t.Errorf("slug = %v, want acme", org["slug"])
	}
}

func TestRegisterJoinExistingOrganizationGrantsEmployee(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "founder@acme.test", "Acme", true)
	_, data := env.register(t, "second@acme.test", "Acme", false)

	user := data["user"].(map[string]interface{})
	if user["role"] != "EMPLOYEE" {
		t.Errorf("role = %v, want EMPLOYEE", user["role"])
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)

	body := jsonBody(t, map[string]interface{}{
		"email":            "founder@acme.test",
		"password":         testPassword,
		"organizationName": "Other Org",
		"newOrg":           true,
	})
	rr := env.do(t, "POST", "/api/auth/register", body, nil)
	assertStatus(t, rr, http.StatusConflict)
}

func TestRegisterNewOrgNameConflict(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)

	body := jsonBody(t, map[string]interface{}{
		"email":            "other@example.test",
		"password":         testPassword,
		"organizationName": "Acme",
		"newOrg":           true,
	})
	rr := env.do(t, "POST", "/api/auth/register", body, nil)
	assertStatus(t, rr, http.StatusConflict)
}

func TestRegisterJoinMissingOrganization(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]interface{}{
		"email":            "lost@example.test",
		"password":         testPassword,
		"organizationName": "Nowhere",
		"newOrg":           false,
	})
	rr := env.do(t, "POST", "/api/auth/register", body, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestRegisterWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]interface{}{
		"email":            "weak@example.test",
		"password":         "password",
		"organizationName": "Acme",
		"newOrg":           true,
	})
	rr := env.do(t, "POST", "/api/auth/register", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if len(resp.Errors) == 0 || resp.Errors[0].Field != "password" {
		t.Fatalf("expected password field error, got %v", resp.Errors)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)

	body := jsonBody(t, map[string]string{"email": "founder@acme.test", "password": "Wr0ng!pass"})
	rr := env.do(t, "POST", "/api/auth/login", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Message != "Invalid email or password" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)

	body := jsonBody(t, map[string]string{"email": "founder@acme.test", "password": testPassword})
	rr := env.do(t, "POST", "/api/auth/login", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	data := resp.Data.(map[string]interface{})
	if data["token"] == "" {
		t.Fatal("expected token in login response")
	}
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "founder@acme.test", "Acme", true)

	// Create.
	rr := env.doBearer(t, "POST", "/api/projects/", jsonBody(t, map[string]string{"name": "Apollo"}), token)
	assertStatus(t, rr, http.StatusCreated)
	var created model.Response
	decodeJSON(t, rr, &created)
	projectID := created.Data.(map[string]interface{})["id"].(string)

	// Duplicate name in the same org conflicts.
	rr = env.doBearer(t, "POST", "/api/projects/", jsonBody(t, map[string]string{"name": "Apollo"}), token)
	assertStatus(t, rr, http.StatusConflict)

	// Read.
	rr = env.doBearer(t, "GET", "/api/projects/"+projectID, nil, token)
	assertStatus(t, rr, http.StatusOK)

	// Rename.
	rr = env.doBearer(t, "PUT", "/api/projects/"+projectID, jsonBody(t, map[string]string{"name": "Artemis"}), token)
	assertStatus(t, rr, http.StatusOK)

	// Delete.
	rr = env.doBearer(t, "DELETE", "/api/projects/"+projectID, nil, token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doBearer(t, "GET", "/api/projects/"+projectID, nil, token)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestProjectTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	tokenA, _ := env.register(t, "a@acme.test", "Acme", true)
	tokenB, _ := env.register(t, "b@globex.test", "Globex", true)

	rr := env.doBearer(t, "POST", "/api/projects/", jsonBody(t, map[string]string{"name": "Secret"}), tokenA)
	assertStatus(t, rr, http.StatusCreated)
	var created model.Response
	decodeJSON(t, rr, &created)
	projectID := created.Data.(map[string]interface{})["id"].(string)

	// Another organization sees a 404, not a 403.
	rr = env.doBearer(t, "GET", "/api/projects/"+projectID, nil, tokenB)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.doBearer(t, "GET", "/api/projects/", nil, tokenB)
	assertStatus(t, rr, http.StatusOK)
	var list model.Response
	decodeJSON(t, rr, &list)
	if projects, ok := list.Data.([]interface{}); ok && len(projects) != 0 {
		t.Fatalf("expected empty project list for other tenant, got %d", len(projects))
	}
}

func TestProjectWriteRequiresManagerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)
	employeeToken, _ := env.register(t, "emp@acme.test", "Acme", false)

	rr := env.doBearer(t, "POST", "/api/projects/", jsonBody(t, map[string]string{"name": "Apollo"}), employeeToken)
	assertStatus(t, rr, http.StatusForbidden)

	// Reads are open to every member.
	rr = env.doBearer(t, "GET", "/api/projects/", nil, employeeToken)
	assertStatus(t, rr, http.StatusOK)
}

func TestProjectRoutesRejectAnonymous(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/projects/", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyCreateAndUse(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	_, secret := env.createKey(t, adminToken, "ci-key")

	// The machine key can drive project writes.
	rr := env.doAPIKey(t, "POST", "/api/projects/", jsonBody(t, map[string]string{"name": "FromCI"}), secret)
	assertStatus(t, rr, http.StatusCreated)

	rr = env.doAPIKey(t, "GET", "/api/projects/", nil, secret)
	assertStatus(t, rr, http.StatusOK)
}

func TestAPIKeyDuplicateNameConflicts(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	env.createKey(t, adminToken, "ci-key")

	rr := env.doBearer(t, "POST", "/api/manage-keys/", jsonBody(t, map[string]string{"name": "ci-key"}), adminToken)
	assertStatus(t, rr, http.StatusConflict)
}

func TestAPIKeyRevokeThenAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	keyID, secret := env.createKey(t, adminToken, "ci-key")

	rr := env.doBearer(t, "PUT", "/api/manage-keys/"+keyID+"/revoke", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)

	// The revoked secret no longer authenticates.
	rr = env.doAPIKey(t, "GET", "/api/projects/", nil, secret)
	assertStatus(t, rr, http.StatusUnauthorized)

	// Revocation is one-way.
	rr = env.doBearer(t, "PUT", "/api/manage-keys/"+keyID+"/revoke", nil, adminToken)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestAPIKeyRotate(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	keyID, oldSecret := env.createKey(t, adminToken, "ci-key")

	rr := env.doBearer(t, "PUT", "/api/manage-keys/"+keyID+"/rotate", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	data := resp.Data.(map[string]interface{})
	newSecret := data["apiKey"].(string)
	if data["id"] != keyID {
		t.Errorf("rotate changed key id: %v", data["id"])
	}
	if data["name"] != "ci-key" {
		t.Errorf("rotate changed key name: %v", data["name"])
	}

	// Old secret fails, new secret succeeds.
	rr = env.doAPIKey(t, "GET", "/api/projects/", nil, oldSecret)
	assertStatus(t, rr, http.StatusUnauthorized)
	rr = env.doAPIKey(t, "GET", "/api/projects/", nil, newSecret)
	assertStatus(t, rr, http.StatusOK)
}

func TestAPIKeyManagementRejectsAPIKeyCredential(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	_, secret := env.createKey(t, adminToken, "ci-key")

	// Machine keys cannot mint more keys.
	rr := env.doAPIKey(t, "POST", "/api/manage-keys/", jsonBody(t, map[string]string{"name": "sneaky"}), secret)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAPIKeyManagementRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)
	employeeToken, _ := env.register(t, "emp@acme.test", "Acme", false)

	rr := env.doBearer(t, "POST", "/api/manage-keys/", jsonBody(t, map[string]string{"name": "nope"}), employeeToken)
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// User management
// ---------------------------------------------------------------------------

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	adminToken, adminData := env.register(t, "founder@acme.test", "Acme", true)
	_, empData := env.register(t, "emp@acme.test", "Acme", false)

	adminID := adminData["user"].(map[string]interface{})["id"].(string)
	empID := empData["user"].(map[string]interface{})["id"].(string)

	// List members.
	rr := env.doBearer(t, "GET", "/api/manage/users/", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)

	// Promote the employee to manager.
	rr = env.doBearer(t, "PATCH", "/api/manage/users/"+empID+"/role",
		jsonBody(t, map[string]string{"newRole": "MANAGER"}), adminToken)
	assertStatus(t, rr, http.StatusOK)

	// ADMIN is not assignable through this endpoint.
	rr = env.doBearer(t, "PATCH", "/api/manage/users/"+empID+"/role",
		jsonBody(t, map[string]string{"newRole": "ADMIN"}), adminToken)
	assertStatus(t, rr, http.StatusBadRequest)

	// Admins cannot change their own role.
	rr = env.doBearer(t, "PATCH", "/api/manage/users/"+adminID+"/role",
		jsonBody(t, map[string]string{"newRole": "MANAGER"}), adminToken)
	assertStatus(t, rr, http.StatusBadRequest)

	// Admins cannot delete themselves (they own the organization).
	rr = env.doBearer(t, "DELETE", "/api/manage/users/"+adminID, nil, adminToken)
	assertStatus(t, rr, http.StatusBadRequest)

	// Deleting the member works.
	rr = env.doBearer(t, "DELETE", "/api/manage/users/"+empID, nil, adminToken)
	assertStatus(t, rr, http.StatusOK)
}

func TestDeleteUserRemovesTheirProjects(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register(t, "founder@acme.test", "Acme", true)
	_, memberData := env.register(t, "emp@acme.test", "Acme", false)
	memberID := memberData["user"].(map[string]interface{})["id"].(string)

	// Promote the member so they can create projects, then log in again for
	// a token carrying the new role.
	rr := env.doBearer(t, "PATCH", "/api/manage/users/"+memberID+"/role",
		jsonBody(t, map[string]string{"newRole": "MANAGER"}), adminToken)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/auth/login",
		jsonBody(t, map[string]string{"email": "emp@acme.test", "password": testPassword}), nil)
	assertStatus(t, rr, http.StatusOK)
	var loginResp model.Response
	decodeJSON(t, rr, &loginResp)
	memberToken := loginResp.Data.(map[string]interface{})["token"].(string)

	rr = env.doBearer(t, "POST", "/api/projects/",
		jsonBody(t, map[string]string{"name": "Member Project"}), memberToken)
	assertStatus(t, rr, http.StatusCreated)
	rr = env.doBearer(t, "POST", "/api/projects/",
		jsonBody(t, map[string]string{"name": "Admin Project"}), adminToken)
	assertStatus(t, rr, http.StatusCreated)

	rr = env.doBearer(t, "DELETE", "/api/manage/users/"+memberID, nil, adminToken)
	assertStatus(t, rr, http.StatusOK)

	// The deleted member's projects go with them; the admin's survive.
	rr = env.doBearer(t, "GET", "/api/projects/", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)
	var resp model.Response
	decodeJSON(t, rr, &resp)
	projects := resp.Data.([]interface{})
	if len(projects) != 1 {
		t.Fatalf("expected 1 surviving project, got %d", len(projects))
	}
	if name := projects[0].(map[string]interface{})["name"].(string); name != "Admin Project" {
		t.Fatalf("surviving project = %q, want Admin Project", name)
	}
}

func TestAdminCannotTouchOtherOrganizations(t *testing.T) {
	env := newTestEnv(t)
	adminA, _ := env.register(t, "a@acme.test", "Acme", true)
	_, dataB := env.register(t, "b@globex.test", "Globex", true)
	userB := dataB["user"].(map[string]interface{})["id"].(string)

	rr := env.doBearer(t, "PATCH", "/api/manage/users/"+userB+"/role",
		jsonBody(t, map[string]string{"newRole": "MANAGER"}), adminA)
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.doBearer(t, "DELETE", "/api/manage/users/"+userB, nil, adminA)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)
	employeeToken, _ := env.register(t, "emp@acme.test", "Acme", false)

	rr := env.doBearer(t, "GET", "/api/manage/users/", nil, employeeToken)
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// Credential surface
// ---------------------------------------------------------------------------

func TestExpiredTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "founder@acme.test", "Acme", true)

	shortIssuer, err := auth.NewTokenIssuer(testJWTSecret, time.Nanosecond)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	user, err := env.store.GetUserByEmail(context.Background(), "founder@acme.test")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	expired, err := shortIssuer.Issue(user.ID, user.Email, user.Role, user.OrganizationID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	rr := env.doBearer(t, "GET", "/api/projects/", nil, expired)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestMalformedAPIKeyShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAPIKey(t, "GET", "/api/projects/", nil, "ts_not-a-real-key")
	assertStatus(t, rr, http.StatusUnauthorized)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Message != "Invalid or expired API key" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/auth/logout", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}
