package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/auth"
	"embpay-license-server/internal/billing"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/license"
	"embpay-license-server/internal/ratelimit"
)

// stubStore is a minimal license.Store for handler tests. Handlers only
// need lookup, counting and the activation paths.
type stubStore struct {
	licenses    map[string]*database.License
	activations map[string]map[string]*database.Activation
}

func newStubStore() *stubStore {
	return &stubStore{
		licenses:    make(map[string]*database.License),
		activations: make(map[string]map[string]*database.Activation),
	}
}

func (s *stubStore) add(lic *database.License) {
	s.licenses[lic.ID] = lic
}

func (s *stubStore) CreateLicense(ctx context.Context, lic *database.License) error {
	if lic.ID == "" {
		lic.ID = "lic-new"
	}
	s.licenses[lic.ID] = lic
	return nil
}

func (s *stubStore) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	for _, lic := range s.licenses {
		if lic.Key == key {
			return lic, nil
		}
	}
	return nil, nil
}

func (s *stubStore) GetLicenseByID(ctx context.Context, id string) (*database.License, error) {
	return s.licenses[id], nil
}

func (s *stubStore) GetLicenseByOrderID(ctx context.Context, orderID string) (*database.License, error) {
	return nil, nil
}

func (s *stubStore) ListLicenses(ctx context.Context, filter database.LicenseFilter) ([]database.License, int, error) {
	var out []database.License
	for _, lic := range s.licenses {
		out = append(out, *lic)
	}
	return out, len(out), nil
}

func (s *stubStore) UpdateLicenseStatus(ctx context.Context, id, status string, reason *string, revokedAt *time.Time) error {
	lic, ok := s.licenses[id]
	if !ok {
		return database.ErrLicenseNotFound
	}
	lic.Status = status
	return nil
}

func (s *stubStore) TouchLicenseVerified(ctx context.Context, id string) error { return nil }

func (s *stubStore) SuspendLicensesForOwner(ctx context.Context, ownerUserID, reason string) ([]database.License, error) {
	return nil, nil
}

func (s *stubStore) CountActiveActivations(ctx context.Context, licenseID string) (int, error) {
	count := 0
	for _, a := range s.activations[licenseID] {
		if a.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *stubStore) FindActivation(ctx context.Context, licenseID, machineID string) (*database.Activation, error) {
	if a, ok := s.activations[licenseID][machineID]; ok && a.IsActive {
		return a, nil
	}
	return nil, nil
}

func (s *stubStore) ListActivations(ctx context.Context, licenseID string) ([]database.Activation, error) {
	var out []database.Activation
	for _, a := range s.activations[licenseID] {
		out = append(out, *a)
	}
	return out, nil
}

func (s *stubStore) TryActivate(ctx context.Context, licenseID, machineID, machineName, ipAddress, userAgent string) (*database.Activation, bool, error) {
	lic, ok := s.licenses[licenseID]
	if !ok {
		return nil, false, database.ErrLicenseNotFound
	}
	if s.activations[licenseID] == nil {
		s.activations[licenseID] = make(map[string]*database.Activation)
	}
	if a, ok := s.activations[licenseID][machineID]; ok && a.IsActive {
		return a, false, nil
	}
	count, _ := s.CountActiveActivations(ctx, licenseID)
	if count >= lic.MaxActivations {
		return nil, false, database.ErrActivationLimitReached
	}
	a := &database.Activation{
		ID:        "act-" + machineID,
		LicenseID: licenseID,
		MachineID: machineID,
		IsActive:  true,
	}
	s.activations[licenseID][machineID] = a
	return a, true, nil
}

func (s *stubStore) DeactivateMachine(ctx context.Context, licenseID, machineID string) (bool, error) {
	if a, ok := s.activations[licenseID][machineID]; ok && a.IsActive {
		a.IsActive = false
		return true, nil
	}
	return false, nil
}

func (s *stubStore) DeactivateAllForLicense(ctx context.Context, licenseID string) (int, error) {
	count := 0
	for _, a := range s.activations[licenseID] {
		if a.IsActive {
			a.IsActive = false
			count++
		}
	}
	return count, nil
}

func (s *stubStore) InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error {
	return nil
}

func newTestServer(t *testing.T, store *stubStore) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	licenseService := license.NewService(store, audit.New(store), events.NewEventBus(), license.Config{
		KeyPrefix:             "TEST",
		DefaultMaxActivations: 1,
	})

	authService, err := auth.NewService(nil, auth.Config{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	billingService := billing.NewService(billing.Config{}, licenseService, nil, audit.New(store), events.NewEventBus())
	limiter := ratelimit.New(ratelimit.Config{Enabled: false})

	return NewServer(ServerConfig{Port: 8080, ProductionMode: true},
		nil, events.NewEventBus(), licenseService, authService, billingService, limiter)
}

func postLicense(server *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/license", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestLicenseEndpointValidation(t *testing.T) {
	server := newTestServer(t, newStubStore())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing key", `{"action":"verify"}`, http.StatusBadRequest, "missing_key"},
		{"empty body", `{}`, http.StatusBadRequest, "missing_key"},
		{"invalid action", `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"destroy"}`, http.StatusBadRequest, "invalid_action"},
		{"activate without machine", `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"activate"}`, http.StatusBadRequest, "missing_machine_id"},
		{"deactivate without machine", `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"deactivate"}`, http.StatusBadRequest, "missing_machine_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postLicense(server, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeBody(t, w)
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestLicenseEndpointPreflight(t *testing.T) {
	server := newTestServer(t, newStubStore())

	req := httptest.NewRequest(http.MethodOptions, "/api/license", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestVerifyDefaultsAction(t *testing.T) {
	store := newStubStore()
	store.add(&database.License{
		ID:             "lic-1",
		Key:            "TEST-AAAA-BBBB-CCCC-DDDD",
		ProductID:      "embpay-pos",
		Status:         database.StatusActive,
		MaxActivations: 2,
	})
	server := newTestServer(t, store)

	// No action field at all; verify is the default
	w := postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["valid"] != true {
		t.Errorf("valid = %v, want true", body["valid"])
	}
}

func TestVerifyUnknownKeyReturnsReason(t *testing.T) {
	server := newTestServer(t, newStubStore())

	w := postLicense(server, `{"key":"TEST-XXXX-XXXX-XXXX-XXXX"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["valid"] != false || body["reason"] != "not_found" {
		t.Errorf("body = %v, want valid=false reason=not_found", body)
	}
}

func TestActivateFlow(t *testing.T) {
	store := newStubStore()
	store.add(&database.License{
		ID:             "lic-1",
		Key:            "TEST-AAAA-BBBB-CCCC-DDDD",
		ProductID:      "embpay-pos",
		Status:         database.StatusActive,
		MaxActivations: 1,
	})
	server := newTestServer(t, store)

	w := postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"activate","machine_id":"m-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}

	// Second machine hits the limit
	w = postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"activate","machine_id":"m-2"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	body = decodeBody(t, w)
	if body["error"] != "max_activations_reached" {
		t.Errorf("error = %v, want max_activations_reached", body["error"])
	}

	// Releasing the slot is idempotent and frees it
	w = postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"deactivate","machine_id":"m-1"}`)
	if w.Code != http.StatusOK {
		t.Errorf("deactivate status = %d, want 200", w.Code)
	}
	w = postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"activate","machine_id":"m-2"}`)
	if w.Code != http.StatusOK {
		t.Errorf("activate after release status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestActivateRevokedLicense(t *testing.T) {
	store := newStubStore()
	store.add(&database.License{
		ID:             "lic-1",
		Key:            "TEST-AAAA-BBBB-CCCC-DDDD",
		Status:         database.StatusRevoked,
		MaxActivations: 1,
	})
	server := newTestServer(t, store)

	w := postLicense(server, `{"key":"TEST-AAAA-BBBB-CCCC-DDDD","action":"activate","machine_id":"m-1"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "license_revoked" {
		t.Errorf("error = %v, want license_revoked", body["error"])
	}
}

func TestActivateUnknownKey(t *testing.T) {
	server := newTestServer(t, newStubStore())

	w := postLicense(server, `{"key":"TEST-XXXX-XXXX-XXXX-XXXX","action":"activate","machine_id":"m-1"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", body["error"])
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	server := newTestServer(t, newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/licenses", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAdminRoutesRejectNonAdminToken(t *testing.T) {
	server := newTestServer(t, newStubStore())

	// A valid token for a merchant role must be rejected with 403
	token, err := auth.NewJWTManager("test-secret", time.Hour).GenerateAccessToken(auth.UserClaims{
		UserID: "user-1",
		Email:  "merchant@example.com",
		Role:   database.RoleMerchant,
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/licenses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestAdminMutateLicense(t *testing.T) {
	store := newStubStore()
	store.add(&database.License{
		ID:             "lic-1",
		Key:            "TEST-AAAA-BBBB-CCCC-DDDD",
		Status:         database.StatusActive,
		MaxActivations: 1,
	})
	server := newTestServer(t, store)

	token, err := auth.NewJWTManager("test-secret", time.Hour).GenerateAccessToken(auth.UserClaims{
		UserID: "admin-1",
		Email:  "admin@embpay.local",
		Role:   database.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/admin/licenses", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, req)
		return w
	}

	// Unknown action
	if w := do(`{"license_id":"lic-1","action":"explode"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", w.Code)
	}

	// Unknown license
	if w := do(`{"license_id":"missing","action":"revoke"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown license status = %d, want 404", w.Code)
	}

	// Valid revoke
	w := do(`{"license_id":"lic-1","action":"revoke","reason":"chargeback"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	if store.licenses["lic-1"].Status != database.StatusRevoked {
		t.Errorf("license status = %q, want revoked", store.licenses["lic-1"].Status)
	}
}
