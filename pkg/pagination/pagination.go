// Package pagination handles limit/offset paging for the registry's listing
// endpoints: participant rosters, visit histories, and deviation reports.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	// DefaultLimit matches one screenful of a coordinator's participant list.
	DefaultLimit = 20
	// MaxLimit caps a page; monitors exporting a whole site paginate rather
	// than pulling the roster in one response.
	MaxLimit = 100
)

// Params is a validated page window. Out-of-range query values are clamped,
// never rejected, so a stale bookmark still returns a sensible page.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset from the request query and clamps them.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response is the envelope for a paged listing. Total counts the full result
// set so dashboards can show "N of M participants".
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// SQL renders the window as a LIMIT/OFFSET clause. Values come from the
// clamped Params, never raw query input.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// HasNext reports whether another page follows this one.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious reports whether this is any page past the first.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset is the offset of the following page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset is the offset of the prior page, clamped at the start.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}
