package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"donatenow/authz"
	"donatenow/config"
	"donatenow/identity"
	"donatenow/ledger"
	"donatenow/media"
	"donatenow/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	c, err := config.Load()
	require.NoError(t, err)
	c.Database.AutoMigrate = true
	c.Media.BaseDir = t.TempDir()
	c.RateLimit.DonateRPS = 0
	return c
}

func setupTestServer(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg = loadTestConfig(t)
	initDB(cfg)

	var err error
	idp = identity.NewProvider(cfg.Security.JWTSecret, cfg.Security.AccessTTL)
	ledgerDB = ledger.NewBreakerStore(ledger.NewGormStore(db), cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerTimeout)
	ledgerSvc = ledger.NewService(ledgerDB, ledger.WithRetry(cfg.Ledger.MaxRetries, cfg.Ledger.RetryInitial))
	enforcer, err = authz.NewEnforcer()
	require.NoError(t, err)
	mediaStore = media.NewStore(cfg.Media.BaseDir, cfg.Media.MaxBytes)

	r := gin.New()
	r.Use(requestContext())
	setupRoutes(r)
	return r
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)
	email := fmt.Sprintf("user%d@example.com", time.Now().UnixNano())

	// 1. Register user
	resp := performRequest(r, http.MethodPost, "/api/register",
		jsonBody(t, map[string]string{"name": "User One", "email": email, "password": "secret1"}), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// duplicate email
	resp = performRequest(r, http.MethodPost, "/api/register",
		jsonBody(t, map[string]string{"name": "User One", "email": email, "password": "secret1"}), "", "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "User exists", decode(t, resp.Body.Bytes())["error"])

	// 2. Login
	resp = performRequest(r, http.MethodPost, "/api/login",
		jsonBody(t, map[string]string{"email": email, "password": "secret1"}), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	login := decode(t, resp.Body.Bytes())
	token, _ := login["token"].(string)
	refresh, _ := login["refresh_token"].(string)
	require.NotEmpty(t, token)
	require.NotEmpty(t, refresh)

	// 3. Create a cause with a photo (multipart)
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("title", "School Books")
	_ = mw.WriteField("description", "books for the village school")
	_ = mw.WriteField("goal_amount", "1000")
	w, _ := mw.CreateFormFile("photo", "sample.txt")
	_, _ = w.Write([]byte("SOME CONTENT"))
	_ = mw.Close()
	resp = performRequest(r, http.MethodPost, "/api/causes", buf, token, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	created := decode(t, resp.Body.Bytes())
	causeID := uint(created["id"].(float64))
	path := "/api/causes/" + strconv.FormatUint(uint64(causeID), 10)

	// 4. Donate up to and over the goal
	code, body := donate(t, r, causeID, map[string]any{"amount": 600}, token)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["goalReached"])
	code, body = donate(t, r, causeID, map[string]any{"amount": 500, "name": "Asha"}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["goalReached"])
	code, body = donate(t, r, causeID, map[string]any{"amount": 1}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cause is closed", body["error"])

	// 5. Cause detail
	resp = performRequest(r, http.MethodGet, path, nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	detail := decode(t, resp.Body.Bytes())
	cause := detail["cause"].(map[string]any)
	assert.Equal(t, "closed", cause["status"])
	assert.Equal(t, 1100.0, cause["raised"])
	assert.Equal(t, "User One", cause["creatorName"])
	donations := detail["donations"].([]any)
	require.Len(t, donations, 2)
	assert.Equal(t, "Asha", donations[0].(map[string]any)["donorName"])
	assert.Equal(t, "User One", donations[1].(map[string]any)["donorName"])

	// 6. Exactly one goal story
	resp = performRequest(r, http.MethodGet, "/api/stories", nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stories []models.Story
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stories))
	goal := 0
	for _, s := range stories {
		if s.CauseID != nil && *s.CauseID == causeID && s.Title == "School Books — Goal Reached" {
			goal++
			assert.Equal(t, "User One", s.AuthorName)
		}
	}
	assert.Equal(t, 1, goal)

	// 7. Editing never touches raised or status
	resp = performRequest(r, http.MethodPut, path,
		jsonBody(t, map[string]any{"title": "School Books 2", "goal_amount": 5000, "raised": 0, "status": "open"}), token, "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = performRequest(r, http.MethodGet, path, nil, "", "")
	cause = decode(t, resp.Body.Bytes())["cause"].(map[string]any)
	assert.Equal(t, 1100.0, cause["raised"])
	assert.Equal(t, "closed", cause["status"])

	// 8. Like toggles
	resp = performRequest(r, http.MethodPost, path+"/like", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, decode(t, resp.Body.Bytes())["liked"])
	resp = performRequest(r, http.MethodPost, path+"/like", nil, token, "")
	assert.Equal(t, false, decode(t, resp.Body.Bytes())["liked"])

	// 9. Profile lists own donations and causes
	resp = performRequest(r, http.MethodGet, "/api/me", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	me := decode(t, resp.Body.Bytes())
	assert.Len(t, me["donations"], 1)
	assert.Len(t, me["created"], 1)

	// 10. Refresh rotation: the old refresh token is single-use
	resp = performRequest(r, http.MethodPost, "/api/refresh", jsonBody(t, map[string]string{"refresh_token": refresh}), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = performRequest(r, http.MethodPost, "/api/refresh", jsonBody(t, map[string]string{"refresh_token": refresh}), "", "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// 11. Analytics
	resp = performRequest(r, http.MethodGet, "/api/analytics/summary", nil, "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	// 12. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/api/me", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)
}

func TestMigrateCommand(t *testing.T) {
	c := loadTestConfig(t)
	initDB(c)
}
