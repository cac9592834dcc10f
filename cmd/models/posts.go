package models

import (
	"time"

	"gorm.io/gorm"
)

// Group is a named topical collection that posts may be filed under.
type Group struct {
	gorm.Model
	Title       string `gorm:"column:title;size:200;not null" json:"title"`
	Slug        string `gorm:"column:slug;size:200;uniqueIndex;not null" json:"slug"`
	Description string `gorm:"column:description;type:text" json:"description"`

	Posts []Post `gorm:"foreignKey:GroupID" json:"posts,omitempty"`
}

// Post is a single authored entry. The group reference is optional and
// survives group deletion (SET NULL); the author reference does not.
type Post struct {
	gorm.Model
	Text     string    `gorm:"column:text;type:text;not null" json:"text"`
	AuthorID uint      `gorm:"column:author_id;not null;index" json:"author_id"`
	GroupID  *uint     `gorm:"column:group_id;index" json:"group_id,omitempty"`
	Image    string    `gorm:"column:image;size:255" json:"image,omitempty"`
	PubDate  time.Time `gorm:"column:pub_date;not null;index" json:"pub_date"`

	Author   *User     `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"author,omitempty"`
	Group    *Group    `gorm:"foreignKey:GroupID;constraint:OnDelete:SET NULL" json:"group,omitempty"`
	Comments []Comment `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
}

type Comment struct {
	gorm.Model
	PostID   uint      `gorm:"column:post_id;not null;index" json:"post_id"`
	AuthorID uint      `gorm:"column:author_id;not null" json:"author_id"`
	Text     string    `gorm:"column:text;type:text;not null" json:"text"`
	PubDate  time.Time `gorm:"column:pub_date;not null" json:"pub_date"`

	Author *User `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"author,omitempty"`
}

// Follow is a directed subscription from UserID to AuthorID. The composite
// unique index absorbs duplicate inserts under concurrent double-submission.
// No soft delete here: unfollow removes the row so the unique index stays
// honest across follow/unfollow cycles.
type Follow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_follow_user_author" json:"user_id"`
	AuthorID  uint      `gorm:"column:author_id;not null;uniqueIndex:idx_follow_user_author" json:"author_id"`

	User   *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Author *User `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"author,omitempty"`
}
