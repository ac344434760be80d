package option

import (
	"github.com/smallbiznis/voxbill/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination applies cursor pagination: records strictly older than the
// cursor, newest first, one extra row fetched so callers can detect HasMore.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if p.PageToken != "" {
			if cursor, err := pagination.DecodeCursor(p.PageToken); err == nil && cursor != nil {
				db = db.Where("created_at < ?", cursor.CreatedAt)
			}
		}
		size := p.PageSize
		if size <= 0 {
			size = 10
		}
		return db.Order("created_at DESC").Limit(size + 1)
	})
}

// WithLimit caps the number of returned rows.
func WithLimit(limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	})
}

// WithOrder appends an ORDER BY clause.
func WithOrder(order string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	})
}
