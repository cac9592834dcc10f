package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/testutil"
)

func newTestServer(t *testing.T) (*gorm.DB, *mux.Router) {
	t.Helper()

	db := testutil.NewTestDB(t)
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()
	NewHandler(db).RegisterRoutes(subrouter)
	return db, router
}

func jsonRequest(t *testing.T, method, target string, payload interface{}) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSignupAndLogin(t *testing.T) {
	db, router := newTestServer(t)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"username":  "leo",
		"full_name": "Leo Tolstoy",
		"email":     "leo@example.com",
		"password":  "war-and-peace",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var user models.User
	require.NoError(t, db.Where("username = ?", "leo").First(&user).Error)
	assert.NotEqual(t, "war-and-peace", user.PasswordHash)

	req = jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "leo",
		"password": "war-and-peace",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
}

func TestSignupValidation(t *testing.T) {
	db, router := newTestServer(t)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"username": "leo",
		"email":    "not-an-email",
		"password": "short",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errors := body["errors"].(map[string]interface{})
	assert.Contains(t, errors, "email")
	assert.Contains(t, errors, "password")

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSignupDuplicateUsername(t *testing.T) {
	db, router := newTestServer(t)
	testutil.CreateUser(t, db, "leo")

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"username": "leo",
		"email":    "second@example.com",
		"password": "password123",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	db, router := newTestServer(t)
	testutil.CreateUser(t, db, "leo")

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "leo",
		"password": "wrong",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginEntryPoint(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/login?next=%2Fapi%2Fv1%2Fposts%2Fcreate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/api/v1/posts/create", body["next"])
}

func TestVerifyResetToken(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		Token:     "123456",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}).Error)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/verify-reset-token", map[string]string{
		"email": user.Email,
		"token": "123456",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyResetTokenExpired(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		Token:     "123456",
		ExpiresAt: time.Now().Add(-time.Minute),
	}).Error)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/verify-reset-token", map[string]string{
		"email": user.Email,
		"token": "123456",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeImageTraversal(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/..%2F..%2Fetc%2Fpasswd", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestPasswordResetConfirm(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	oldHash := user.PasswordHash

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		Token:     "123456",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}).Error)

	target := fmt.Sprintf("/api/v1/auth/reset-password/%d/confirm", user.ID)
	req := jsonRequest(t, http.MethodPost, target, map[string]string{
		"token":    "123456",
		"password": "brand-new-password",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.NotEqual(t, oldHash, updated.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("brand-new-password")))

	// The token is burned on use and cannot authorize a second reset.
	var count int64
	db.Model(&models.PasswordResetToken{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(0), count)

	req = jsonRequest(t, http.MethodPost, target, map[string]string{
		"token":    "123456",
		"password": "another-password",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetConfirmRequiresToken(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	oldHash := user.PasswordHash

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		Token:     "123456",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}).Error)

	// A password alone must never be enough to take over the account.
	target := fmt.Sprintf("/api/v1/auth/reset-password/%d/confirm", user.ID)
	req := jsonRequest(t, http.MethodPost, target, map[string]string{
		"password": "attacker-pass",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var unchanged models.User
	require.NoError(t, db.First(&unchanged, user.ID).Error)
	assert.Equal(t, oldHash, unchanged.PasswordHash)
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(unchanged.PasswordHash), []byte("attacker-pass")))
}

func TestPasswordResetConfirmWrongOrExpiredToken(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	oldHash := user.PasswordHash

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		Token:     "123456",
		ExpiresAt: time.Now().Add(-time.Minute),
	}).Error)

	target := fmt.Sprintf("/api/v1/auth/reset-password/%d/confirm", user.ID)

	for _, token := range []string{"999999", "123456"} {
		req := jsonRequest(t, http.MethodPost, target, map[string]string{
			"token":    token,
			"password": "brand-new-password",
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	var unchanged models.User
	require.NoError(t, db.First(&unchanged, user.ID).Error)
	assert.Equal(t, oldHash, unchanged.PasswordHash)
}

func TestRefreshTokenRotation(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	require.NoError(t, db.Model(user).Updates(map[string]interface{}{
		"refresh_token":            "old-refresh-token",
		"refresh_token_expired_at": time.Now().Add(24 * time.Hour),
	}).Error)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": "old-refresh-token",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEqual(t, "old-refresh-token", body["refresh_token"])

	// The stored token rotated, so the old one no longer works.
	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.Equal(t, body["refresh_token"], updated.Refresh)

	req = jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": "old-refresh-token",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshTokenExpired(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	require.NoError(t, db.Model(user).Updates(map[string]interface{}{
		"refresh_token":            "stale-refresh-token",
		"refresh_token_expired_at": time.Now().Add(-time.Minute),
	}).Error)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": "stale-refresh-token",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
