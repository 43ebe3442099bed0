package types

import "strings"

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection parses "asc" or "desc", case-insensitively
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	default:
		return "", ErrInvalidDirection
	}
}

// Sort is a sort specification on one column
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// ResultsRequest describes one page of directory results
type ResultsRequest struct {
	Query    string              `json:"query"`
	Filters  map[string][]string `json:"filters,omitempty"` // facet id -> selected values
	Sort     *Sort               `json:"sort,omitempty"`    // nil means unsorted
	Page     int                 `json:"page"`              // 1-based
	PageSize int                 `json:"page_size"`
}

// Offset returns the number of rows before this page
func (r *ResultsRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// Validate checks page bounds and sort direction
func (r *ResultsRequest) Validate() error {
	if r.Page < 1 {
		return ErrInvalidPage
	}
	if r.PageSize < 1 {
		return ErrInvalidPageSize
	}
	if r.Sort != nil && r.Sort.Direction != Asc && r.Sort.Direction != Desc {
		return ErrInvalidDirection
	}
	return nil
}

// ResultsPage is one page of results plus the total match count
type ResultsPage struct {
	Items []Member `json:"items"`
	Total int      `json:"total"`
}

// ColumnPrefs is the persisted column visibility for a profile
type ColumnPrefs struct {
	Visible map[string]bool `json:"visible"`
	Edited  bool            `json:"edited"`
}
