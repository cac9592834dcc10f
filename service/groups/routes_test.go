package groups

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/testutil"
)

func newTestServer(t *testing.T) (*gorm.DB, *mux.Router) {
	t.Helper()

	db := testutil.NewTestDB(t)
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()
	NewGroupHandler(db).RegisterRoutes(subrouter)
	return db, router
}

func formRequest(method, target, token string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCreateGroupGeneratesSlug(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	req := formRequest(http.MethodPost, "/api/v1/groups", testutil.AccessToken(t, user.ID), url.Values{
		"title":       {"Котики и Программирование"},
		"description": {"cats and code"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var group models.Group
	require.NoError(t, db.First(&group).Error)
	assert.NotEmpty(t, group.Slug)
	assert.NotContains(t, group.Slug, " ")
	assert.Equal(t, strings.ToLower(group.Slug), group.Slug)
}

func TestCreateGroupDuplicateSlug(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	token := testutil.AccessToken(t, user.ID)
	require.NoError(t, db.Create(&models.Group{Title: "First", Slug: "taken"}).Error)

	req := formRequest(http.MethodPost, "/api/v1/groups", token, url.Values{
		"title": {"Second"},
		"slug":  {"taken"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateGroupMissingTitle(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	req := formRequest(http.MethodPost, "/api/v1/groups", testutil.AccessToken(t, user.ID), url.Values{
		"description": {"no title"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errors := body["errors"].(map[string]interface{})
	assert.Contains(t, errors, "title")

	var count int64
	db.Model(&models.Group{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGetGroupNotFound(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteGroupDetachesPosts(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")

	group := &models.Group{Title: "Doomed", Slug: "doomed"}
	require.NoError(t, db.Create(group).Error)

	post := &models.Post{Text: "survives", AuthorID: user.ID, GroupID: &group.ID, PubDate: time.Now()}
	require.NoError(t, db.Create(post).Error)

	req := formRequest(http.MethodDelete, "/api/v1/groups/doomed", testutil.AccessToken(t, user.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var survivor models.Post
	require.NoError(t, db.First(&survivor, post.ID).Error)
	assert.Equal(t, "survives", survivor.Text)
	assert.Nil(t, survivor.GroupID)

	var count int64
	db.Model(&models.Group{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUpdateGroupKeepsSlug(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	require.NoError(t, db.Create(&models.Group{Title: "Old", Slug: "fixed", Description: "old"}).Error)

	req := formRequest(http.MethodPut, "/api/v1/groups/fixed", testutil.AccessToken(t, user.ID), url.Values{
		"title":       {"New"},
		"description": {"new"},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var group models.Group
	require.NoError(t, db.Where("slug = ?", "fixed").First(&group).Error)
	assert.Equal(t, "New", group.Title)
	assert.Equal(t, "new", group.Description)
}

func TestDeleteGroupFreesSlug(t *testing.T) {
	db, router := newTestServer(t)
	user := testutil.CreateUser(t, db, "leo")
	token := testutil.AccessToken(t, user.ID)

	create := func() *httptest.ResponseRecorder {
		req := formRequest(http.MethodPost, "/api/v1/groups", token, url.Values{
			"title": {"Recycled"},
			"slug":  {"recycled"},
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusCreated, create().Code)

	req := formRequest(http.MethodDelete, "/api/v1/groups/recycled", token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The slug is free again after deletion.
	require.Equal(t, http.StatusCreated, create().Code)

	var count int64
	db.Unscoped().Model(&models.Group{}).Where("slug = ?", "recycled").Count(&count)
	assert.Equal(t, int64(1), count)
}
