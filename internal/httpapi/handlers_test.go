package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"campusiam.org/internal/audit"
	"campusiam.org/internal/auth"
	"campusiam.org/internal/mfa"
)

func newTestAPI(t *testing.T) (*API, *auth.Service) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-access-secret", "test-refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	engine, err := mfa.New("Campus IAM Test")
	if err != nil {
		t.Fatalf("mfa.New: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.NewInMemory())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	svc, err := auth.NewService(auth.NewInMemory(), tokens, engine, recorder)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, ReadyProbe{}, Config{Version: "test"}), svc
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func loginAs(t *testing.T, h http.Handler, email, password string) (string, *http.Cookie) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login",
		`{"email":"`+email+`","password":"`+password+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatal("no access token in login response")
	}
	return token, refreshCookie(t, rec)
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register",
		`{"name":"Alice","email":"alice@example.com","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "Registered" {
		t.Fatalf("register body: %v", body)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if _, ok := body["accessToken"].(string); !ok {
		t.Fatalf("login body missing accessToken: %v", body)
	}
	// The refresh token must never appear in the JSON body.
	if strings.Contains(rec.Body.String(), "refreshToken") {
		t.Fatalf("refresh token leaked in body: %s", rec.Body.String())
	}

	cookie := refreshCookie(t, rec)
	if !cookie.HttpOnly {
		t.Fatal("refresh cookie is not http-only")
	}
	if cookie.Path != refreshCookiePath {
		t.Fatalf("cookie path = %q, want %q", cookie.Path, refreshCookiePath)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie samesite = %v, want lax", cookie.SameSite)
	}
	if cookie.Secure {
		t.Fatal("secure flag set outside production")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/token", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if _, ok := body["accessToken"].(string); !ok {
		t.Fatalf("refresh body missing accessToken: %v", body)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/auth/token", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "no refresh token" {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/auth/logout", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cookie := refreshCookie(t, rec)
	if cookie.MaxAge >= 0 || cookie.Value != "" {
		t.Fatalf("cookie not cleared: %+v", cookie)
	}
}

func TestLoginRejectsBadJSON(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login",
		`{"email":"a@b.c","password":"pw","surprise":true}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
}

func TestProtectedEndpointRequiresBearer(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/auth/mfa/setup", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/mfa/setup", "", bearer("garbage"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestMFASetupEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	doJSON(t, h, http.MethodPost, "/api/auth/register",
		`{"name":"Alice","email":"alice@example.com","password":"s3cret"}`, nil)
	token, _ := loginAs(t, h, "alice@example.com", "s3cret")

	rec := doJSON(t, h, http.MethodPost, "/api/auth/mfa/setup", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	qr, _ := body["qr"].(string)
	if !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatalf("qr missing or malformed: %.40s", qr)
	}
	if body["secret"] == "" {
		t.Fatal("secret missing")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/mfa/verify",
		`{"token":"000000"}`, bearer(token))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad code status = %d, want 400", rec.Code)
	}
}

func TestAdminSurfaceRBAC(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	if _, err := svc.EnsureRootAdmin(context.Background(), "", "rootpw"); err != nil {
		t.Fatalf("EnsureRootAdmin: %v", err)
	}
	doJSON(t, h, http.MethodPost, "/api/auth/register",
		`{"name":"Bob","email":"bob@example.com","password":"pw"}`, nil)

	studentToken, _ := loginAs(t, h, "bob@example.com", "pw")
	adminToken, _ := loginAs(t, h, svc.RootAdminEmail(), "rootpw")

	rec := doJSON(t, h, http.MethodGet, "/api/admin/users", "", bearer(studentToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student list status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/admin/users", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/admin/users", "", bearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d, body %s", rec.Code, rec.Body.String())
	}
	var users []auth.PublicUser
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}

	var bobID string
	for _, u := range users {
		if u.Email == "bob@example.com" {
			bobID = u.ID
		}
	}
	if bobID == "" {
		t.Fatal("bob not listed")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/admin/role",
		`{"userId":"`+bobID+`","role":"faculty"}`, bearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("role change status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/admin/disable",
		`{"userId":"`+bobID+`"}`, bearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login",
		`{"email":"bob@example.com","password":"pw"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("disabled login status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/admin/enable",
		`{"userId":"`+bobID+`"}`, bearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/admin/logs?action=login", "", bearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d, body %s", rec.Code, rec.Body.String())
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no login entries in audit log")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/admin/logs?action=bogus", "", bearer(adminToken))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus action status = %d, want 400", rec.Code)
	}
}

func TestRootAdminProtectedOverHTTP(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()

	if _, err := svc.EnsureRootAdmin(context.Background(), "", "rootpw"); err != nil {
		t.Fatalf("EnsureRootAdmin: %v", err)
	}
	adminToken, _ := loginAs(t, h, svc.RootAdminEmail(), "rootpw")

	rec := doJSON(t, h, http.MethodGet, "/api/admin/users", "", bearer(adminToken))
	var users []auth.PublicUser
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	rootID := users[0].ID

	rec = doJSON(t, h, http.MethodPost, "/api/admin/delete",
		`{"userId":"`+rootID+`"}`, bearer(adminToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete root status = %d, want 403", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "root admin account is protected" {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestPasswordResetEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	doJSON(t, h, http.MethodPost, "/api/auth/register",
		`{"name":"Alice","email":"alice@example.com","password":"pw"}`, nil)

	// Same answer for known and unknown addresses.
	for _, email := range []string{"alice@example.com", "ghost@example.com"} {
		rec := doJSON(t, h, http.MethodPost, "/api/auth/request-password-reset",
			`{"email":"`+email+`"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("reset request for %s status = %d", email, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/api/auth/reset-password",
		`{"email":"alice@example.com","token":"wrong","newPassword":"npw"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad token status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "campus-iam-api" || body["version"] != "test" {
		t.Fatalf("healthz body: %v", body)
	}

	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}
