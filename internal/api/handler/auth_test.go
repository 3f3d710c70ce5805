package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/api/handler"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/storage"
)

// stubStore implements just the user lookups the auth endpoints touch; the
// embedded interface panics on anything else, which would flag an
// unexpected dependency.
type stubStore struct {
	storage.Storage
	byName map[string]*models.User
	saved  []*models.User
}

func (s *stubStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if u, ok := s.byName[username]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (s *stubStore) CreateUser(_ context.Context, user *models.User) error {
	s.saved = append(s.saved, user)
	if s.byName == nil {
		s.byName = make(map[string]*models.User)
	}
	s.byName[user.Username] = user
	return nil
}

func newAuthFixture() (*handler.Handler, *stubStore, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	store := &stubStore{byName: make(map[string]*models.User)}
	h := handler.NewHandler(nil, nil, store, nil, []byte("test-secret"), time.Hour, zerolog.Nop())

	r := gin.New()
	r.POST("/auth/token", h.IssueToken)
	r.GET("/whoami", h.RequireAuth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString("userID")})
	})
	return h, store, r
}

func issueToken(t *testing.T, r *gin.Engine, username string) (token, userID string) {
	t.Helper()
	body, _ := json.Marshal(gin.H{"username": username})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	require.NotEmpty(t, resp["user_id"])
	return resp["token"], resp["user_id"]
}

func TestIssueTokenCreatesUserOnFirstSight(t *testing.T) {
	_, store, r := newAuthFixture()

	_, userID := issueToken(t, r, "ann")

	require.Len(t, store.saved, 1)
	assert.Equal(t, "ann", store.saved[0].Username)
	assert.Equal(t, userID, store.saved[0].ID)
}

func TestIssueTokenReturnsExistingUser(t *testing.T) {
	_, store, r := newAuthFixture()
	store.byName["bob"] = &models.User{ID: "u-bob", Username: "bob"}

	_, userID := issueToken(t, r, "bob")

	assert.Equal(t, "u-bob", userID)
	assert.Empty(t, store.saved)
}

func TestIssueTokenRequiresUsername(t *testing.T) {
	_, _, r := newAuthFixture()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	_, _, r := newAuthFixture()
	token, userID := issueToken(t, r, "ann")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, userID, resp["userId"])
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	_, _, r := newAuthFixture()
	token, _ := issueToken(t, r, "ann")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejectsMissingOrBadToken(t *testing.T) {
	_, _, r := newAuthFixture()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &stubStore{byName: make(map[string]*models.User)}
	other := handler.NewHandler(nil, nil, store, nil, []byte("other-secret"), time.Hour, zerolog.Nop())
	otherRouter := gin.New()
	otherRouter.POST("/auth/token", other.IssueToken)
	foreignToken, _ := issueToken(t, otherRouter, "eve")

	_, _, r := newAuthFixture()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+foreignToken)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
