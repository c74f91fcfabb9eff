package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/services/auth"
	"github.com/saficlean/marketplace/internal/app/services/jobs"
	"github.com/saficlean/marketplace/internal/app/services/location"
	"github.com/saficlean/marketplace/internal/app/services/matching"
	"github.com/saficlean/marketplace/internal/app/services/notifications"
	"github.com/saficlean/marketplace/internal/app/services/payments"
	"github.com/saficlean/marketplace/internal/app/services/tracking"
	"github.com/saficlean/marketplace/internal/app/storage/memory"
	"github.com/saficlean/marketplace/pkg/logger"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logger.NewDefault("test")

	notifSvc := notifications.New(store, store, nil, log)
	authSvc := auth.New(store, auth.Config{SecretKey: "test-secret"}, log)
	jobsSvc := jobs.New(store, store, store, nil, notifSvc, jobs.Config{}, log)
	matchSvc := matching.New(store, store, notifSvc, log)
	hub := tracking.NewHub(log)
	trackSvc, err := tracking.New(jobsSvc, tracking.NewMemorySessionStore(), hub, notifSvc, tracking.Config{}, log)
	if err != nil {
		t.Fatalf("tracking service: %v", err)
	}
	paySvc := payments.New(store, store, store, nil, notifSvc, log)
	locSvc := location.New(store, store, store, nil, hub, log)

	router := NewRouter(Services{
		Auth:          authSvc,
		Jobs:          jobsSvc,
		Matching:      matchSvc,
		Tracking:      trackSvc,
		Payments:      paySvc,
		Location:      locSvc,
		Notifications: notifSvc,
		Hub:           hub,
	}, Options{
		AllowedOrigins:     "*",
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
		Metrics:            metrics.New(),
	}, log)
	return router, store
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func registerAndLogin(t *testing.T, router http.Handler, email, userType string, rate float64) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email":       email,
		"password":    "password123",
		"full_name":   "Test " + userType,
		"user_type":   userType,
		"hourly_rate": rate,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]interface{}{
		"email":    email,
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	token, _ := decode(t, rec)["access_token"].(string)
	if token == "" {
		t.Fatalf("login %s: no access token in %s", email, rec.Body.String())
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/jobs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	router, _ := newTestRouter(t)
	token := registerAndLogin(t, router, "client@example.com", "client", 0)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d body %s", rec.Code, rec.Body.String())
	}
	me := decode(t, rec)
	if me["email"] != "client@example.com" {
		t.Fatalf("unexpected profile %v", me)
	}
	if _, ok := me["hashed_password"]; ok {
		t.Fatal("password hash must not be serialized")
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email":    "x@example.com",
		"password": "password123",
		"is_admin": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestJobFlowOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	cleanerToken := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 300)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Deep clean",
		"location":          "Westlands, Nairobi",
		"latitude":          -1.2635,
		"longitude":         36.8036,
		"scheduled_at":      time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 120,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	jobID, _ := created["id"].(string)
	if jobID == "" || created["status"] != "pending" {
		t.Fatalf("unexpected job %v", created)
	}

	// Cleaners cannot post jobs.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/jobs", cleanerToken, map[string]interface{}{
		"title":             "Fake",
		"location":          "Nowhere",
		"scheduled_at":      time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 60,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cleaner posting, got %d", rec.Code)
	}

	// The job shows up on the open board.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/open", cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open jobs: status %d", rec.Code)
	}
	open := decode(t, rec)["jobs"].([]interface{})
	if len(open) != 1 {
		t.Fatalf("expected 1 open job, got %d", len(open))
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/accept", jobID), cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rec.Code, rec.Body.String())
	}
	accepted := decode(t, rec)
	if accepted["status"] != "scheduled" {
		t.Fatalf("expected scheduled after accept, got %v", accepted["status"])
	}
	// 120 minutes at 300/hr.
	if accepted["total_amount"].(float64) != 600 {
		t.Fatalf("expected repriced amount 600, got %v", accepted["total_amount"])
	}

	// A stranger cannot read the job.
	strangerToken := registerAndLogin(t, router, "other@example.com", "client", 0)
	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+jobID, strangerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}

	// The client was told about the acceptance.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/notifications", clientToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("notifications: status %d", rec.Code)
	}
	notifs := decode(t, rec)["notifications"].([]interface{})
	if len(notifs) == 0 {
		t.Fatal("expected an acceptance notification for the client")
	}
}

func TestCancelReopensCleanerWithdrawal(t *testing.T) {
	router, _ := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	cleanerToken := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 250)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Office clean",
		"location":          "CBD, Nairobi",
		"scheduled_at":      time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 90,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", rec.Code, rec.Body.String())
	}
	jobID := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/accept", jobID), cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", jobID), cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["status"]; got != "pending" {
		t.Fatalf("cleaner withdrawal should reopen the job, got %v", got)
	}
}

func TestSlotProposalOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	cleanerToken := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 200)

	scheduled := time.Now().Add(48 * time.Hour).UTC()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Apartment clean",
		"location":          "Kilimani, Nairobi",
		"scheduled_at":      scheduled.Format(time.RFC3339),
		"estimated_minutes": 120,
	})
	jobID := decode(t, rec)["id"].(string)

	start := scheduled.Add(2 * time.Hour)
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/slots", jobID), cleanerToken, map[string]interface{}{
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(2 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose slot: status %d body %s", rec.Code, rec.Body.String())
	}
	slotID := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/slots/%s/respond", slotID), clientToken, map[string]interface{}{
		"accept": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond slot: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+jobID, clientToken, nil)
	j := decode(t, rec)
	if j["status"] != "scheduled" {
		t.Fatalf("accepted slot should schedule the job, got %v", j["status"])
	}
}

func TestMatchesEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	registerAndLogin(t, router, "cleaner@example.com", "cleaner", 270)

	// Matching only considers vetted cleaners.
	cleaner, err := store.GetUserByEmail(context.Background(), "cleaner@example.com")
	if err != nil {
		t.Fatalf("load cleaner: %v", err)
	}
	cleaner.Verified = true
	if _, err := store.UpdateUser(context.Background(), cleaner); err != nil {
		t.Fatalf("verify cleaner: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Weekly clean",
		"location":          "Lavington, Nairobi",
		"scheduled_at":      time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 60,
	})
	jobID := decode(t, rec)["id"].(string)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/matches", jobID), clientToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("matches: status %d body %s", rec.Code, rec.Body.String())
	}
	matches := decode(t, rec)["matches"].([]interface{})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestUpdateProfileOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	token := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 300)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/auth/me", token, map[string]interface{}{
		"bio":         "Detail-oriented, five years in",
		"hourly_rate": 350,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile: status %d body %s", rec.Code, rec.Body.String())
	}
	updated := decode(t, rec)
	if updated["hourly_rate"].(float64) != 350 {
		t.Fatalf("rate not updated: %v", updated)
	}
}

func TestVerifyCleanerRequiresAdmin(t *testing.T) {
	router, store := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	registerAndLogin(t, router, "cleaner@example.com", "cleaner", 300)

	cleaner, err := store.GetUserByEmail(context.Background(), "cleaner@example.com")
	if err != nil {
		t.Fatalf("load cleaner: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/users/"+cleaner.ID+"/verify", clientToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	// Admin accounts are provisioned out of band; promote one directly.
	adminToken := registerAndLogin(t, router, "admin@example.com", "client", 0)
	admin, err := store.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("load admin: %v", err)
	}
	admin.Type = user.TypeAdmin
	if _, err := store.UpdateUser(context.Background(), admin); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	adminToken = registerAndLoginOnly(t, router, "admin@example.com")

	rec = doJSON(t, router, http.MethodPost, "/api/v1/users/"+cleaner.ID+"/verify", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	if verified := decode(t, rec)["is_verified"]; verified != true {
		t.Fatalf("cleaner should be verified, got %v", verified)
	}
}

// registerAndLoginOnly re-logs an existing account so role changes made
// through the store are reflected in the token.
func registerAndLoginOnly(t *testing.T, router http.Handler, email string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]interface{}{
		"email":    email,
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	token, _ := decode(t, rec)["access_token"].(string)
	return token
}

func TestPasswordResetOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	token := registerAndLogin(t, router, "client@example.com", "client", 0)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]interface{}{
		"email": "client@example.com",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("request reset: status %d body %s", rec.Code, rec.Body.String())
	}
	// Unknown emails get the same answer.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]interface{}{
		"email": "nobody@example.com",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for unknown email, got %d", rec.Code)
	}

	// The reset code lands on the notification channel.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/notifications", token, nil)
	notifs := decode(t, rec)["notifications"].([]interface{})
	if len(notifs) == 0 {
		t.Fatal("expected a reset notification")
	}
	data := notifs[0].(map[string]interface{})["data"].(map[string]interface{})
	resetToken, _ := data["token"].(string)
	if resetToken == "" {
		t.Fatal("notification carries no reset token")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/password-reset/confirm", "", map[string]interface{}{
		"token":        resetToken,
		"new_password": "newpassword456",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("confirm reset: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]interface{}{
		"email":    "client@example.com",
		"password": "newpassword456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSuggestionsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	cleanerToken := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 270)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Studio clean",
		"location":          "Ngong Road, Nairobi",
		"scheduled_at":      time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 120,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/suggestions", cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("suggestions: status %d body %s", rec.Code, rec.Body.String())
	}
	suggestions := decode(t, rec)["suggestions"].([]interface{})
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}

	// Clients have no suggestion feed.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/jobs/suggestions", clientToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rec.Code)
	}
}

// doServerJSON is doJSON against a live server instead of a recorder.
func doServerJSON(t *testing.T, baseURL, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readEnvelope(t *testing.T, conn *websocket.Conn) tracking.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env tracking.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("decode frame %q: %v", payload, err)
	}
	return env
}

func TestTrackSocketStreamsLocationUpdates(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	clientToken := registerAndLogin(t, router, "client@example.com", "client", 0)
	cleanerToken := registerAndLogin(t, router, "cleaner@example.com", "cleaner", 300)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/jobs", clientToken, map[string]interface{}{
		"title":             "Deep clean",
		"location":          "Westlands, Nairobi",
		"latitude":          -1.2635,
		"longitude":         36.8036,
		"scheduled_at":      time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_minutes": 120,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", rec.Code, rec.Body.String())
	}
	jobID := decode(t, rec)["id"].(string)
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/accept", jobID), cleanerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rec.Code, rec.Body.String())
	}

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	wsURL := fmt.Sprintf("%s/api/v1/jobs/%s/track?token=%s", wsBase, jobID, clientToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != "connected" {
		t.Fatalf("expected connected greeting, got %q", env.Type)
	}

	resp := doServerJSON(t, srv.URL, http.MethodPost,
		fmt.Sprintf("/api/v1/jobs/%s/location", jobID), cleanerToken,
		map[string]interface{}{"latitude": -1.27, "longitude": 36.81})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record location: status %d", resp.StatusCode)
	}

	env := readEnvelope(t, conn)
	if env.Type != "location_update" {
		t.Fatalf("expected location_update, got %q", env.Type)
	}
	if env.Timestamp == "" || env.Data == nil {
		t.Fatalf("incomplete envelope: %+v", env)
	}

	// Non-participants are rejected before the upgrade.
	strangerToken := registerAndLogin(t, router, "other@example.com", "client", 0)
	strangerURL := fmt.Sprintf("%s/api/v1/jobs/%s/track?token=%s", wsBase, jobID, strangerToken)
	_, resp, err = websocket.DefaultDialer.Dial(strangerURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure for a stranger")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}
	resp.Body.Close()
}
