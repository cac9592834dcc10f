package utils

import (
	"os"
	"strconv"

	"gorm.io/gorm"
)

const DefaultPageSize = 10

// PostsPerPage is the single listing tunable: POSTS_PER_PAGE, default 10.
func PostsPerPage() int {
	if v := os.Getenv("POSTS_PER_PAGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultPageSize
}

type Pagination struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// Paginate runs a counted, fixed-size page query over an already filtered and
// ordered gorm query. An absent or invalid page parameter means page 1; a
// page past the end yields the last valid page rather than an error.
func Paginate(query *gorm.DB, pageParam string, out interface{}) (*Pagination, error) {
	pageSize := PostsPerPage()

	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 1 {
		page = 1
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(out).Error; err != nil {
		return nil, err
	}

	return &Pagination{
		Page:        page,
		PageSize:    pageSize,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}
