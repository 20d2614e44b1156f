package store

import (
	"context"
	"fmt"
)

// PageFunc fetches one page starting at offset
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// Paginate requests pages strictly in order and concatenates them until a
// page comes back shorter than pageSize. Any error aborts the loop and no
// partial result is returned.
func Paginate[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []T
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page at offset %d: %w", offset, err)
		}

		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
