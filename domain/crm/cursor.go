package crm

import (
	"fmt"
	"strconv"
)

// Providers with offset or page-number pagination encode their position
// as a decimal cursor so the engine only ever sees opaque strings.

// ParseNumericCursor decodes an offset or page cursor. The empty cursor
// yields first.
func ParseNumericCursor(cursor string, first int) (int, error) {
	if cursor == "" {
		return first, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid page cursor %q", cursor)
	}
	return n, nil
}

// NextOffsetCursor returns the cursor after a page fetched at offset, or
// "" when the page was the last one. total may be 0 when unknown.
func NextOffsetCursor(offset, received, pageSize, total int) string {
	if received == 0 || received < pageSize {
		return ""
	}
	next := offset + received
	if total > 0 && next >= total {
		return ""
	}
	return strconv.Itoa(next)
}

// NextPageCursor returns the cursor after page, or "" when it was the last
// one. totalPages may be 0 when unknown.
func NextPageCursor(page, received, pageSize, totalPages int) string {
	if received == 0 || received < pageSize {
		return ""
	}
	if totalPages > 0 && page+1 >= totalPages {
		return ""
	}
	return strconv.Itoa(page + 1)
}
