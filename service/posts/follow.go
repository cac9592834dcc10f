package posts

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm/clause"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/cmd/utils"
)

const followIndexURL = "/api/v1/follow"

// FollowIndex lists posts by the authors the caller follows, newest first.
func (h *PostHandler) FollowIndex(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	followed := h.db.Model(&models.Follow{}).Select("author_id").Where("user_id = ?", userID)

	var postList []models.Post
	query := h.db.Model(&models.Post{}).Where("author_id IN (?)", followed).
		Preload("Author").Preload("Group").
		Order("pub_date DESC, id DESC")

	pagination, err := utils.Paginate(query, r.URL.Query().Get("page"), &postList)
	if err != nil {
		http.Error(w, "Error retrieving posts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"posts":      postList,
		"pagination": pagination,
	})
}

// ProfileFollow subscribes the caller to an author. Self-follow creates no
// record, an existing subscription is left alone, and either way the caller
// lands on the feed.
func (h *PostHandler) ProfileFollow(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	vars := mux.Vars(r)

	var author models.User
	if err := h.db.Where("username = ?", vars["username"]).First(&author).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if author.ID != userID {
		follow := models.Follow{UserID: userID, AuthorID: author.ID}
		// Insert-if-absent: the unique index plus DO NOTHING absorbs the
		// duplicate under concurrent double-submission.
		err := h.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "author_id"}},
			DoNothing: true,
		}).Create(&follow).Error
		if err != nil {
			http.Error(w, "Error creating follow", http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, followIndexURL, http.StatusFound)
}

// ProfileUnfollow removes the caller's subscription to an author. A missing
// subscription is not an error.
func (h *PostHandler) ProfileUnfollow(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	vars := mux.Vars(r)

	var author models.User
	if err := h.db.Where("username = ?", vars["username"]).First(&author).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	result := h.db.Where("user_id = ? AND author_id = ?", userID, author.ID).
		Delete(&models.Follow{})
	if result.Error != nil {
		http.Error(w, "Error removing follow", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, followIndexURL, http.StatusFound)
}
