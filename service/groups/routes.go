package groups

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/cmd/utils"
	"github.com/yatube/yatube-server/forms"
)

type GroupHandler struct {
	db *gorm.DB
}

func NewGroupHandler(db *gorm.DB) *GroupHandler {
	return &GroupHandler{db: db}
}

func (h *GroupHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/groups", utils.RequireUser(h.CreateGroup)).Methods("POST")
	router.HandleFunc("/groups", h.GetGroups).Methods("GET")
	router.HandleFunc("/groups/{slug}", h.GetGroup).Methods("GET")
	router.HandleFunc("/groups/{slug}", utils.RequireUser(h.UpdateGroup)).Methods("PUT")
	router.HandleFunc("/groups/{slug}", utils.RequireUser(h.DeleteGroup)).Methods("DELETE")
}

// CreateGroup creates a topical group. The slug is taken from the request
// when present, otherwise generated from the title; either way it must be
// unique.
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := &forms.GroupForm{
		Title:       r.FormValue("title"),
		Slug:        r.FormValue("slug"),
		Description: r.FormValue("description"),
	}

	if fieldErrors := form.Validate(); fieldErrors.Any() {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"form":   form,
			"errors": fieldErrors,
		})
		return
	}

	groupSlug := form.Slug
	if groupSlug == "" {
		groupSlug = slug.Make(form.Title)
	}

	var count int64
	h.db.Model(&models.Group{}).Where("slug = ?", groupSlug).Count(&count)
	if count > 0 {
		http.Error(w, "Group slug already in use", http.StatusConflict)
		return
	}

	group := models.Group{
		Title:       form.Title,
		Slug:        groupSlug,
		Description: form.Description,
	}

	if err := h.db.Create(&group).Error; err != nil {
		http.Error(w, "Error creating group", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(group)
}

// GetGroups lists groups with pagination.
func (h *GroupHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	var groupList []models.Group

	query := h.db.Model(&models.Group{}).Order("title")

	pagination, err := utils.Paginate(query, r.URL.Query().Get("page"), &groupList)
	if err != nil {
		http.Error(w, "Error retrieving groups", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups":     groupList,
		"pagination": pagination,
	})
}

func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var group models.Group
	if err := h.db.Where("slug = ?", vars["slug"]).First(&group).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(group)
}

// UpdateGroup changes a group's title and description. The slug is the
// group's public address and stays fixed.
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var group models.Group
	if err := h.db.Where("slug = ?", vars["slug"]).First(&group).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := &forms.GroupForm{
		Title:       r.FormValue("title"),
		Slug:        group.Slug,
		Description: r.FormValue("description"),
	}

	if fieldErrors := form.Validate(); fieldErrors.Any() {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"form":   form,
			"errors": fieldErrors,
		})
		return
	}

	group.Title = form.Title
	group.Description = form.Description

	if err := h.db.Save(&group).Error; err != nil {
		http.Error(w, "Error updating group", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(group)
}

// DeleteGroup removes a group. Its posts stay alive with the group
// reference unset.
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var group models.Group
	if err := h.db.Where("slug = ?", vars["slug"]).First(&group).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	tx := h.db.Begin()

	if err := tx.Model(&models.Post{}).Where("group_id = ?", group.ID).
		Update("group_id", nil).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error detaching posts", http.StatusInternalServerError)
		return
	}

	// Hard delete: a soft-deleted row would keep the slug's unique index
	// occupied and block re-creating a group at the same address.
	if err := tx.Unscoped().Delete(&group).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting group", http.StatusInternalServerError)
		return
	}

	tx.Commit()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Group deleted successfully",
	})
}
