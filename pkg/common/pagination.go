package common

import (
	"fmt"
	"net/http"
	"strconv"
)

// ListParams carries cursor pagination for list endpoints. The cursor is
// opaque to clients; it round-trips whatever the store handed back.
type ListParams struct {
	Limit  int
	Cursor string
}

// ExtractListParams reads the limit and cursor query parameters. A zero
// limit leaves the store's default page size in charge; oversized limits
// are clamped there too.
func ExtractListParams(r *http.Request) (ListParams, error) {
	params := ListParams{Cursor: r.URL.Query().Get("cursor")}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return params, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
		}
		params.Limit = parsed
	}

	return params, nil
}
