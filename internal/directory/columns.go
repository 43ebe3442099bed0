package directory

import (
	"fmt"

	"github.com/dshills/memberdir/pkg/types"
)

// Column describes one result column
type Column struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Sortable        bool            `json:"sortable"`
	DefaultSort     types.Direction `json:"default_sort,omitempty"` // empty means no default
	HiddenByDefault bool            `json:"hidden_by_default,omitempty"`
}

// ColumnState is a column with its current visibility
type ColumnState struct {
	Column
	Visible bool `json:"visible"`
}

// DefaultColumns are the member directory columns
var DefaultColumns = []Column{
	{ID: "name", Title: "Name", Sortable: true, DefaultSort: types.Asc},
	{ID: "organization", Title: "Organization"},
	{ID: "role", Title: "Role"},
	{ID: "career_stage", Title: "Career stage"},
	{ID: "location", Title: "Location"},
	{ID: "karma", Title: "Karma", Sortable: true},
	{ID: "joined_at", Title: "Joined", Sortable: true},
	{ID: "bio", Title: "Bio", HiddenByDefault: true},
}

// FacetSpec names a filter facet
type FacetSpec struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DefaultFacets are the member directory facets
var DefaultFacets = []FacetSpec{
	{ID: types.FacetRole, Title: "Role"},
	{ID: types.FacetOrganization, Title: "Organization"},
	{ID: types.FacetCareerStage, Title: "Career stage"},
	{ID: types.FacetLocation, Title: "Location"},
	{ID: types.FacetKeywords, Title: "Keywords"},
}

// columnSet holds column definitions and their visibility. Not safe for
// concurrent use; the Directory guards it.
type columnSet struct {
	defs    []Column
	index   map[string]int
	visible map[string]bool
	edited  bool
}

func newColumnSet(defs []Column) *columnSet {
	cs := &columnSet{
		defs:  append([]Column(nil), defs...),
		index: make(map[string]int, len(defs)),
	}
	for i, c := range defs {
		cs.index[c.ID] = i
	}
	cs.reset()
	return cs
}

func (cs *columnSet) lookup(id string) (Column, bool) {
	i, ok := cs.index[id]
	if !ok {
		return Column{}, false
	}
	return cs.defs[i], true
}

// reset restores default visibility and clears the edited flag
func (cs *columnSet) reset() {
	cs.visible = make(map[string]bool, len(cs.defs))
	for _, c := range cs.defs {
		cs.visible[c.ID] = !c.HiddenByDefault
	}
	cs.edited = false
}

// apply loads persisted preferences. Unknown ids are ignored and columns
// missing from prefs keep their default.
func (cs *columnSet) apply(prefs types.ColumnPrefs) {
	cs.reset()
	for id, v := range prefs.Visible {
		if _, ok := cs.index[id]; ok {
			cs.visible[id] = v
		}
	}
	cs.edited = prefs.Edited
}

func (cs *columnSet) toggle(id string) error {
	if _, ok := cs.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, id)
	}
	cs.visible[id] = !cs.visible[id]
	cs.edited = true
	return nil
}

func (cs *columnSet) prefs() types.ColumnPrefs {
	visible := make(map[string]bool, len(cs.visible))
	for k, v := range cs.visible {
		visible[k] = v
	}
	return types.ColumnPrefs{Visible: visible, Edited: cs.edited}
}

func (cs *columnSet) states() []ColumnState {
	out := make([]ColumnState, len(cs.defs))
	for i, c := range cs.defs {
		out[i] = ColumnState{Column: c, Visible: cs.visible[c.ID]}
	}
	return out
}

// defaultSort returns the first column's configured default sort
func (cs *columnSet) defaultSort() *types.Sort {
	for _, c := range cs.defs {
		if c.DefaultSort != "" && c.Sortable {
			return &types.Sort{Field: c.ID, Direction: c.DefaultSort}
		}
	}
	return nil
}

// validate reports columns whose default sort is set on a non-sortable column
func (cs *columnSet) validate() error {
	seen := make(map[string]bool, len(cs.defs))
	for _, c := range cs.defs {
		if c.ID == "" {
			return ErrInvalidColumn
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidColumn, c.ID)
		}
		seen[c.ID] = true
		if c.DefaultSort != "" && c.DefaultSort != types.Asc && c.DefaultSort != types.Desc {
			return fmt.Errorf("%w: column %s", types.ErrInvalidDirection, c.ID)
		}
		if c.DefaultSort != "" && !c.Sortable {
			return fmt.Errorf("%w: default sort on %s", ErrColumnNotSortable, c.ID)
		}
	}
	return nil
}

// dropInvalidDefaults clears default sorts set on non-sortable columns
func (cs *columnSet) dropInvalidDefaults() []string {
	var dropped []string
	for i, c := range cs.defs {
		if c.DefaultSort != "" && !c.Sortable {
			cs.defs[i].DefaultSort = ""
			dropped = append(dropped, c.ID)
		}
	}
	return dropped
}
