package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMemServer wires the routes against an in-memory ledger. Routes that
// need Postgres are not exercised here.
func setupMemServer(t *testing.T, rl config.RateLimitConfig) (*gin.Engine, *ledger.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg = &config.Config{RateLimit: rl}
	db = nil
	idp = identity.NewProvider("test-secret", time.Hour)
	store := ledger.NewMemStore()
	ledgerDB = store
	ledgerSvc = ledger.NewService(store, ledger.WithRetry(3, time.Millisecond))
	var err error
	enforcer, err = authz.NewEnforcer()
	require.NoError(t, err)
	mediaStore = media.NewStore(t.TempDir(), 1<<20)

	r := gin.New()
	r.Use(requestContext())
	setupRoutes(r)
	return r, store
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m), string(body))
	return m
}

func donate(t *testing.T, r http.Handler, causeID uint, body any, token string) (int, map[string]any) {
	t.Helper()
	path := "/api/causes/" + strconv.FormatUint(uint64(causeID), 10) + "/donate"
	resp := performRequest(r, http.MethodPost, path, jsonBody(t, body), token, "application/json")
	return resp.Code, decode(t, resp.Body.Bytes())
}

func TestDonateEndpointScenarios(t *testing.T) {
	r, store := setupMemServer(t, config.RateLimitConfig{})
	store.AddUser(1, "Priya")
	cause := store.AddCause(models.Cause{Title: "Clean Water", Goal: decimal.NewFromInt(1000), CreatorID: 1})

	code, body := donate(t, r, cause.ID, map[string]any{"amount": 600, "name": "Asha", "message": "go!"}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["goalReached"])
	assert.NotZero(t, body["donationId"])

	code, body = donate(t, r, cause.ID, map[string]any{"amount": "500"}, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["goalReached"])

	code, body = donate(t, r, cause.ID, map[string]any{"amount": 50}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cause is closed", body["error"])

	resp := performRequest(r, http.MethodGet, "/api/causes/"+strconv.FormatUint(uint64(cause.ID), 10), nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	detail := decode(t, resp.Body.Bytes())
	c := detail["cause"].(map[string]any)
	assert.Equal(t, "closed", c["status"])
	assert.Equal(t, 1100.0, c["raised"])
	assert.Equal(t, 1000.0, c["goal"])
	assert.Equal(t, "Priya", c["creatorName"])

	donations := detail["donations"].([]any)
	require.Len(t, donations, 2)
	newest := donations[0].(map[string]any)
	assert.Equal(t, "Anonymous", newest["donorName"])
	assert.Equal(t, 500.0, newest["amount"])
	oldest := donations[1].(map[string]any)
	assert.Equal(t, "Asha", oldest["donorName"])
	assert.Equal(t, "go!", oldest["message"])
	assert.Contains(t, oldest, "timestamp")

	require.Len(t, store.Stories(), 1)
	assert.Equal(t, "Clean Water — Goal Reached", store.Stories()[0].Title)
}

func TestDonateRejectsInvalidAmounts(t *testing.T) {
	r, store := setupMemServer(t, config.RateLimitConfig{})
	cause := store.AddCause(models.Cause{Title: "x", Goal: decimal.NewFromInt(10)})

	for _, body := range []map[string]any{
		{"amount": -5},
		{"amount": "abc"},
		{"amount": 0},
		{"amount": true},
		{"name": "no amount"},
	} {
		code, resp := donate(t, r, cause.ID, body, "")
		assert.Equal(t, http.StatusBadRequest, code, "%v", body)
		assert.Equal(t, "Invalid amount", resp["error"], "%v", body)
	}
	assert.Empty(t, store.AllDonations())
}

func TestDonateUnknownCause(t *testing.T) {
	r, _ := setupMemServer(t, config.RateLimitConfig{})

	code, body := donate(t, r, 404, map[string]any{"amount": 5}, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Cause not found", body["error"])

	resp := performRequest(r, http.MethodPost, "/api/causes/abc/donate", jsonBody(t, map[string]any{"amount": 5}), "", "application/json")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = performRequest(r, http.MethodGet, "/api/causes/404", nil, "", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDonateDonorNames(t *testing.T) {
	r, store := setupMemServer(t, config.RateLimitConfig{})
	cause := store.AddCause(models.Cause{Title: "x"})
	token, err := idp.Issue(identity.Principal{ID: 9, Role: models.RoleDonor, Name: "Ravi"})
	require.NoError(t, err)

	code, _ := donate(t, r, cause.ID, map[string]any{"amount": 1}, token)
	require.Equal(t, http.StatusOK, code)
	code, _ = donate(t, r, cause.ID, map[string]any{"amount": 1}, "not-a-token")
	require.Equal(t, http.StatusOK, code, "a bad token must not block donations")

	all := store.AllDonations()
	require.Len(t, all, 2)
	assert.Equal(t, "Ravi", all[0].DonorName)
	require.NotNil(t, all[0].UserID)
	assert.Equal(t, uint(9), *all[0].UserID)
	assert.Equal(t, "Anonymous", all[1].DonorName)
	assert.Nil(t, all[1].UserID)
}

func TestDonateRateLimited(t *testing.T) {
	r, store := setupMemServer(t, config.RateLimitConfig{DonateRPS: 0.001, DonateBurst: 1})
	cause := store.AddCause(models.Cause{Title: "x"})

	code, _ := donate(t, r, cause.ID, map[string]any{"amount": 1}, "")
	require.Equal(t, http.StatusOK, code)
	code, body := donate(t, r, cause.ID, map[string]any{"amount": 1}, "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "too many requests", body["error"])
	assert.Len(t, store.AllDonations(), 1)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	r, _ := setupMemServer(t, config.RateLimitConfig{})
	for _, rt := range []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/causes"},
		{http.MethodPut, "/api/causes/1"},
		{http.MethodDelete, "/api/causes/1"},
		{http.MethodPost, "/api/causes/1/like"},
		{http.MethodPost, "/api/stories"},
	} {
		resp := performRequest(r, rt.method, rt.path, nil, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code, "%s %s", rt.method, rt.path)
	}
}

func TestRequestIDAndHealth(t *testing.T) {
	r, _ := setupMemServer(t, config.RateLimitConfig{})
	resp := performRequest(r, http.MethodGet, "/healthz", nil, "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get(requestIDHeader))
}

func TestLedgerErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{ledger.ErrInvalidAmount, http.StatusBadRequest, "Invalid amount"},
		{ledger.ErrCauseNotFound, http.StatusNotFound, "Cause not found"},
		{ledger.ErrCauseClosed, http.StatusBadRequest, "Cause is closed"},
		{ledger.ErrStorageConflict, http.StatusServiceUnavailable, ""},
		{ledger.ErrStorageUnavailable, http.StatusServiceUnavailable, ""},
	}
	for _, tc := range cases {
		code, msg := ledgerErrorStatus(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		if tc.msg != "" {
			assert.Equal(t, tc.msg, msg)
		}
	}
}

func TestRegisterDuplicateIsBadRequest(t *testing.T) {
	r, _ := setupMemServer(t, config.RateLimitConfig{})
	assert.Equal(t, "User exists", registerErrorMessage(fmt.Errorf("register: %w", errUserExists)))

	// validation failures share the 400 path without touching the database
	resp := performRequest(r, http.MethodPost, "/api/register", jsonBody(t, map[string]string{"email": "x@y.z"}), "", "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Missing fields", decode(t, resp.Body.Bytes())["error"])
}
