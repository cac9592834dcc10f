package posts

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/cmd/utils"
	"github.com/yatube/yatube-server/forms"
)

type PostHandler struct {
	db *gorm.DB
}

func NewPostHandler(db *gorm.DB) *PostHandler {
	return &PostHandler{db: db}
}

func (h *PostHandler) RegisterRoutes(router *mux.Router) {
	// Post routes; the create route is registered before {id} so it wins.
	router.HandleFunc("/posts/create", utils.RequireUser(h.CreatePost)).Methods("GET", "POST")
	router.HandleFunc("/posts", h.Index).Methods("GET")
	router.HandleFunc("/posts/{id:[0-9]+}", h.PostDetail).Methods("GET")
	router.HandleFunc("/posts/{id:[0-9]+}/edit", utils.RequireUser(h.EditPost)).Methods("GET", "POST")
	router.HandleFunc("/posts/{id:[0-9]+}/comment", utils.RequireUser(h.AddComment)).Methods("POST")

	// Group and profile listings
	router.HandleFunc("/groups/{slug}/posts", h.GroupPosts).Methods("GET")
	router.HandleFunc("/profiles/{username}", utils.CurrentUser(h.Profile)).Methods("GET")

	// Follow routes
	router.HandleFunc("/follow", utils.RequireUser(h.FollowIndex)).Methods("GET")
	router.HandleFunc("/profiles/{username}/follow", utils.RequireUser(h.ProfileFollow)).Methods("POST")
	router.HandleFunc("/profiles/{username}/unfollow", utils.RequireUser(h.ProfileUnfollow)).Methods("POST")
}

// Index lists all posts, newest first, paginated.
func (h *PostHandler) Index(w http.ResponseWriter, r *http.Request) {
	var postList []models.Post

	query := h.db.Model(&models.Post{}).Preload("Author").Preload("Group").
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

// GroupPosts lists the posts of one group, newest first.
func (h *PostHandler) GroupPosts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var group models.Group
	if err := h.db.Where("slug = ?", vars["slug"]).First(&group).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	var postList []models.Post
	query := h.db.Model(&models.Post{}).Where("group_id = ?", group.ID).
		Preload("Author").Preload("Group").
		Order("pub_date DESC, id DESC")

	pagination, err := utils.Paginate(query, r.URL.Query().Get("page"), &postList)
	if err != nil {
		http.Error(w, "Error retrieving posts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"group":      group,
		"posts":      postList,
		"pagination": pagination,
	})
}

// Profile lists one author's posts with their total count and, for an
// identified caller, whether that caller already follows the author.
func (h *PostHandler) Profile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var author models.User
	if err := h.db.Where("username = ?", vars["username"]).First(&author).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	var quantity int64
	h.db.Model(&models.Post{}).Where("author_id = ?", author.ID).Count(&quantity)

	following := false
	if userID, err := utils.GetUserIDFromContext(r.Context()); err == nil {
		var count int64
		h.db.Model(&models.Follow{}).
			Where("user_id = ? AND author_id = ?", userID, author.ID).Count(&count)
		following = count > 0
	}

	var postList []models.Post
	query := h.db.Model(&models.Post{}).Where("author_id = ?", author.ID).
		Preload("Group").
		Order("pub_date DESC, id DESC")

	pagination, err := utils.Paginate(query, r.URL.Query().Get("page"), &postList)
	if err != nil {
		http.Error(w, "Error retrieving posts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"author":     author,
		"quantity":   quantity,
		"following":  following,
		"posts":      postList,
		"pagination": pagination,
	})
}

// PostDetail returns one post with its comments, the author's total post
// count and a blank comment form.
func (h *PostHandler) PostDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	postID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.db.Preload("Author").Preload("Group").Preload("Comments.Author").
		First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	var quantity int64
	h.db.Model(&models.Post{}).Where("author_id = ?", post.AuthorID).Count(&quantity)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"post":     post,
		"quantity": quantity,
		"comments": post.Comments,
		"form":     map[string]string{"text": ""},
	})
}

// CreatePost renders the blank form on GET and creates a post on POST. Only
// valid input is ever written; a failed validation re-renders the form with
// field errors and leaves the store untouched.
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	if r.Method == http.MethodGet {
		h.renderPostForm(w, nil, forms.FieldErrors{}, false)
		return
	}

	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}
	}

	form := forms.BindPostForm(r)
	if fieldErrors := form.Validate(h.db); fieldErrors.Any() {
		h.renderPostForm(w, form, fieldErrors, false)
		return
	}

	post := models.Post{
		Text:     form.Text,
		AuthorID: userID,
		GroupID:  form.GroupID,
		PubDate:  time.Now(),
	}

	if form.Image != nil {
		file, err := form.Image.Open()
		if err != nil {
			http.Error(w, "Error processing image", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		imageURL, err := utils.SaveImage(file, form.Image)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error saving image: %v", err), http.StatusInternalServerError)
			return
		}
		post.Image = imageURL
	}

	if err := h.db.Create(&post).Error; err != nil {
		if post.Image != "" {
			utils.DeleteImage(post.Image)
		}
		http.Error(w, "Error creating post", http.StatusInternalServerError)
		return
	}

	var author models.User
	if err := h.db.First(&author, userID).Error; err != nil {
		http.Error(w, "Error loading profile", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/api/v1/profiles/%s", author.Username), http.StatusFound)
}

// EditPost updates a post's text, group and image in place. Only the author
// may edit; anyone else is sent back to the post detail unchanged. Author
// and publication date never change.
func (h *PostHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	vars := mux.Vars(r)
	postID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.db.First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	detailURL := fmt.Sprintf("/api/v1/posts/%d", post.ID)

	if post.AuthorID != userID {
		http.Redirect(w, r, detailURL, http.StatusFound)
		return
	}

	if r.Method == http.MethodGet {
		form := &forms.PostForm{Text: post.Text, GroupID: post.GroupID}
		h.renderPostForm(w, form, forms.FieldErrors{}, true)
		return
	}

	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}
	}

	form := forms.BindPostForm(r)
	if fieldErrors := form.Validate(h.db); fieldErrors.Any() {
		h.renderPostForm(w, form, fieldErrors, true)
		return
	}

	post.Text = form.Text
	post.GroupID = form.GroupID

	if form.Image != nil {
		file, err := form.Image.Open()
		if err != nil {
			http.Error(w, "Error processing image", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		imageURL, err := utils.SaveImage(file, form.Image)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error saving image: %v", err), http.StatusInternalServerError)
			return
		}
		if post.Image != "" {
			utils.DeleteImage(post.Image)
		}
		post.Image = imageURL
	}

	if err := h.db.Save(&post).Error; err != nil {
		http.Error(w, "Error updating post", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, detailURL, http.StatusFound)
}

// AddComment attaches a comment to a post. Invalid input is discarded and
// the caller is sent back to the post detail either way.
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, utils.LoginPath, http.StatusFound)
		return
	}

	vars := mux.Vars(r)
	postID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.db.First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	detailURL := fmt.Sprintf("/api/v1/posts/%d", post.ID)

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, detailURL, http.StatusFound)
		return
	}

	form := forms.BindCommentForm(r)
	if fieldErrors := form.Validate(); fieldErrors.Any() {
		http.Redirect(w, r, detailURL, http.StatusFound)
		return
	}

	comment := models.Comment{
		PostID:   post.ID,
		AuthorID: userID,
		Text:     form.Text,
		PubDate:  time.Now(),
	}

	if err := h.db.Create(&comment).Error; err != nil {
		http.Error(w, "Error creating comment", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, detailURL, http.StatusFound)
}

// renderPostForm writes the create/edit form context, listing the selectable
// groups the way the rendered form would show them.
func (h *PostHandler) renderPostForm(w http.ResponseWriter, form *forms.PostForm, fieldErrors forms.FieldErrors, isEdit bool) {
	var groupList []models.Group
	h.db.Order("title").Find(&groupList)

	formContext := map[string]interface{}{"text": "", "group": nil}
	if form != nil {
		formContext["text"] = form.Text
		if form.GroupID != nil {
			formContext["group"] = *form.GroupID
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"form":    formContext,
		"errors":  fieldErrors,
		"groups":  groupList,
		"is_edit": isEdit,
	})
}
