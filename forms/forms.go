package forms

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/cmd/models"
	"github.com/yatube/yatube-server/cmd/utils"
)

var validate = validator.New()

// FieldErrors maps a submitted field name to a human-readable problem,
// shaped for re-rendering the form alongside the user's input.
type FieldErrors map[string]string

func (e FieldErrors) Any() bool { return len(e) > 0 }

func collect(err error) FieldErrors {
	fieldErrors := FieldErrors{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fieldErrors[strings.ToLower(fe.Field())] = messageFor(fe)
		}
		return fieldErrors
	}
	fieldErrors["form"] = err.Error()
	return fieldErrors
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	default:
		return "Invalid value"
	}
}

// PostForm enumerates the user-editable fields of a post: required text,
// optional group selection, optional image upload.
type PostForm struct {
	Text    string                `validate:"required"`
	GroupID *uint                 `validate:"-"`
	Image   *multipart.FileHeader `validate:"-"`
}

// BindPostForm reads the submitted post fields. The request body must
// already be parsed (ParseMultipartForm or ParseForm).
func BindPostForm(r *http.Request) *PostForm {
	form := &PostForm{Text: strings.TrimSpace(r.FormValue("text"))}

	if raw := r.FormValue("group"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			groupID := uint(id)
			form.GroupID = &groupID
		}
	}

	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["image"]; len(files) > 0 {
			form.Image = files[0]
		}
	}

	return form
}

// Validate checks field rules plus referential ones: a selected group must
// exist and an uploaded image must be an allowed type. Nothing is written.
func (f *PostForm) Validate(db *gorm.DB) FieldErrors {
	fieldErrors := FieldErrors{}

	if err := validate.Struct(f); err != nil {
		fieldErrors = collect(err)
	}

	if f.GroupID != nil {
		var count int64
		db.Model(&models.Group{}).Where("id = ?", *f.GroupID).Count(&count)
		if count == 0 {
			fieldErrors["group"] = "Select a valid group"
		}
	}

	if f.Image != nil {
		ext := strings.ToLower(filepath.Ext(f.Image.Filename))
		if !utils.IsValidImageType(ext) {
			fieldErrors["image"] = "Upload a valid image (jpg, jpeg, png or gif)"
		}
	}

	return fieldErrors
}

// CommentForm carries the single editable comment field.
type CommentForm struct {
	Text string `validate:"required"`
}

func BindCommentForm(r *http.Request) *CommentForm {
	return &CommentForm{Text: strings.TrimSpace(r.FormValue("text"))}
}

func (f *CommentForm) Validate() FieldErrors {
	if err := validate.Struct(f); err != nil {
		return collect(err)
	}
	return FieldErrors{}
}

// GroupForm carries the editable group fields. Slug is optional on create;
// it is generated from the title when absent.
type GroupForm struct {
	Title       string `validate:"required,max=200"`
	Slug        string `validate:"omitempty,max=200"`
	Description string
}

func (f *GroupForm) Validate() FieldErrors {
	if err := validate.Struct(f); err != nil {
		return collect(err)
	}
	return FieldErrors{}
}

// SignupForm carries the registration fields.
type SignupForm struct {
	Username string `validate:"required,max=150"`
	FullName string `validate:"max=255"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

func (f *SignupForm) Validate() FieldErrors {
	if err := validate.Struct(f); err != nil {
		return collect(err)
	}
	return FieldErrors{}
}
