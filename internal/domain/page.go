package domain

import (
	"sort"
	"strings"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
	DefaultSortBy    = "LastModifiedTime"
)

// ListOptions carries the shared pagination and sort parameters.
// Offset is 1-based.
type ListOptions struct {
	Offset    int
	Limit     int
	SortBy    string
	SortOrder string
}

// Normalize clamps the options into their allowed ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 1 {
		o.Offset = 1
	}
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.SortBy == "" {
		o.SortBy = DefaultSortBy
	}
	o.SortOrder = strings.ToLower(o.SortOrder)
	if o.SortOrder != "asc" {
		o.SortOrder = "desc"
	}
	return o
}

// Desc reports whether results are sorted descending.
func (o ListOptions) Desc() bool {
	return o.SortOrder != "asc"
}

// Page is one page of a listing.
type Page[T any] struct {
	Items         []T
	Count         int
	TotalCount    int
	NextAvailable bool
}

// Paginate sorts items with less and slices out the page described by opts.
func Paginate[T any](items []T, opts ListOptions, less func(a, b T) bool) Page[T] {
	opts = opts.Normalize()
	if less != nil {
		sort.SliceStable(items, func(i, j int) bool {
			if opts.Desc() {
				return less(items[j], items[i])
			}
			return less(items[i], items[j])
		})
	}

	total := len(items)
	start := opts.Offset - 1
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	page := items[start:end]
	if page == nil {
		page = []T{}
	}
	return Page[T]{
		Items:         page,
		Count:         len(page),
		TotalCount:    total,
		NextAvailable: end < total,
	}
}
