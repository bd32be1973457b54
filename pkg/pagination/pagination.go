package pagination

import (
	"net/http"
	"strconv"
)

// MaxLimit caps page sizes requested by clients.
const MaxLimit = 500

// Params is a limit/offset window read from query strings.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FromRequest reads ?limit= and ?offset= from r. Missing or invalid values
// fall back to defaultLimit and 0; limit is capped at MaxLimit.
func FromRequest(r *http.Request, defaultLimit int) Params {
	p := Params{Limit: defaultLimit}

	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		p.Offset = v
	}
	return p
}

// Page describes a window of a larger result set.
type Page struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// NewPage builds the pagination block for a window over total rows.
func NewPage(total int64, p Params) Page {
	return Page{
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: int64(p.Offset+p.Limit) < total,
	}
}
