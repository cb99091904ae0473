package services

import (
	"context"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// pagination clamps page parameters and returns the offset and limit to apply.
func pagination(page, pageSize int) (int, int, int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize, (page - 1) * pageSize, pageSize
}

func utcClock(now func() time.Time) func() time.Time {
	if now == nil {
		now = time.Now
	}
	return func() time.Time { return now().UTC() }
}
