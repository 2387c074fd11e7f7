package utils

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is the window of a list endpoint selected by ?page= and ?limit=.
type Page struct {
	Number int `json:"page"`
	Limit  int `json:"limit"`
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// ParsePage reads ?page= and ?limit=. Missing or garbage values fall back
// to the first page of DefaultPageSize rows, and limit is capped at
// MaxPageSize.
func ParsePage(c *fiber.Ctx) Page {
	page := Page{Number: c.QueryInt("page", 1), Limit: c.QueryInt("limit", DefaultPageSize)}
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Limit < 1 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	return page
}

// FetchPage counts the rows matched by query and loads the requested page
// of them into dest, ordered by order with the named associations
// preloaded. query must not carry an ORDER BY of its own.
func FetchPage(c *fiber.Ctx, query *gorm.DB, dest interface{}, order string, preloads ...string) (Page, int64, error) {
	page := ParsePage(c)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return page, 0, err
	}

	find := query.Session(&gorm.Session{}).Order(order).Offset(page.Offset()).Limit(page.Limit)
	for _, association := range preloads {
		find = find.Preload(association)
	}
	if err := find.Find(dest).Error; err != nil {
		return page, total, err
	}
	return page, total, nil
}
