package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/config"
)

func testConfig(t *testing.T) *config.WebConfig {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &config.WebConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		UI: config.WebUIConfig{
			SessionSecret: "dGVzdHNlY3JldHRlc3RzZWNyZXR0ZXN0c2VjcmV0dGVzdA==",
			Users: []config.WebUser{{
				Username:     "admin",
				PasswordHash: string(hash),
				Role:         config.RoleAdmin,
			}},
		},
	}
}

func TestHandleListPLCs(t *testing.T) {
	s := NewServer(testConfig(t), []Target{{Name: "plc1"}, {Name: "plc2"}})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/plcs")
	if err != nil {
		t.Fatalf("GET /api/plcs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []plcSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d plcs, want 2", len(out))
	}
}

func TestHandleListTagsNotFound(t *testing.T) {
	s := NewServer(testConfig(t), nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/plcs/missing/tags")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleWriteTagRequiresAuth(t *testing.T) {
	s := NewServer(testConfig(t), []Target{{Name: "plc1"}})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/plcs/plc1/tags/Counter", "application/json", bytes.NewReader([]byte(`{"value":1}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := NewServer(testConfig(t), nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	resp, err := http.Post(srv.URL+"/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginSucceedsAndAuthorizesWrite(t *testing.T) {
	s := NewServer(testConfig(t), []Target{{Name: "plc1"}})
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	client := srv.Client()

	form := url.Values{"username": {"admin"}, "password": {"admin"}}
	resp, err := client.Post(srv.URL+"/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie after login")
	}

	// No known tag type yet (scanner has no snapshot), so the write should
	// fail with 422 rather than 401 — proving the session passed auth.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/plcs/plc1/tags/Counter", bytes.NewReader([]byte(`{"value":1}`)))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("POST write: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	s := NewServer(testConfig(t), nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/logout", "", nil)
	if err != nil {
		t.Fatalf("POST /logout: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCIPValueAnyRoundTripsThroughJSON(t *testing.T) {
	v, err := cip.NewValue(cip.TypeDINT, 1)
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	if err := v.SetInt(0, 7); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	jsonVal, err := v.Any(0)
	if err != nil {
		t.Fatalf("Any: %v", err)
	}
	if jsonVal.(int64) != 7 {
		t.Errorf("Any(0) = %v, want 7", jsonVal)
	}
}
