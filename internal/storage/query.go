package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/memberdir/pkg/types"
)

// facetColumns maps field facets to their member column
var facetColumns = map[string]string{
	types.FacetRole:         "role",
	types.FacetOrganization: "organization",
	types.FacetCareerStage:  "career_stage",
	types.FacetLocation:     "location",
}

// sortColumns maps column ids to ORDER BY expressions
var sortColumns = map[string]string{
	"name":         "m.display_name COLLATE NOCASE",
	"username":     "m.username",
	"organization": "m.organization COLLATE NOCASE",
	"role":         "m.role COLLATE NOCASE",
	"career_stage": "m.career_stage",
	"location":     "m.location COLLATE NOCASE",
	"karma":        "m.karma",
	"joined_at":    "m.joined_at",
}

// minKeywordLength filters short, noisy terms out of default keyword suggestions
const minKeywordLength = 4

// likeEscaper escapes LIKE wildcards; queries use ESCAPE '\'
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLiteStorage) suggestWithQuerier(ctx context.Context, q querier, facetID, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.defaultSuggestionsWithQuerier(ctx, q, facetID, s.suggestionLimit)
	}

	if facetID == types.FacetKeywords {
		pattern := likeEscaper.Replace(strings.ToLower(query)) + "%"
		return queryStrings(ctx, q, `
			SELECT term FROM members_vocab
			WHERE term LIKE ? ESCAPE '\'
			ORDER BY doc DESC, term
			LIMIT ?
		`, pattern, s.suggestionLimit)
	}

	col, ok := facetColumns[facetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFacet, facetID)
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	sqlQuery := fmt.Sprintf(`
		SELECT %[1]s FROM members
		WHERE %[1]s != '' AND %[1]s LIKE ? ESCAPE '\'
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC, %[1]s COLLATE NOCASE
		LIMIT ?
	`, col)
	return queryStrings(ctx, q, sqlQuery, pattern, s.suggestionLimit)
}

// Suggest returns facet values matching query, most common first
func (s *SQLiteStorage) Suggest(ctx context.Context, facetID, query string) ([]string, error) {
	return s.suggestWithQuerier(ctx, s.querier(), facetID, query)
}

func (s *SQLiteStorage) defaultSuggestionsWithQuerier(ctx context.Context, q querier, facetID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = s.suggestionLimit
	}

	if facetID == types.FacetKeywords {
		return queryStrings(ctx, q, `
			SELECT term FROM members_vocab
			WHERE length(term) >= ?
			ORDER BY doc DESC, term
			LIMIT ?
		`, minKeywordLength, limit)
	}

	col, ok := facetColumns[facetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFacet, facetID)
	}
	sqlQuery := fmt.Sprintf(`
		SELECT %[1]s FROM members
		WHERE %[1]s != ''
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC, %[1]s COLLATE NOCASE
		LIMIT ?
	`, col)
	return queryStrings(ctx, q, sqlQuery, limit)
}

// DefaultSuggestions returns the most common values of a facet. Concurrent
// calls for the same facet and limit share one query.
func (s *SQLiteStorage) DefaultSuggestions(ctx context.Context, facetID string, limit int) ([]string, error) {
	key := fmt.Sprintf("%s/%d", facetID, limit)
	v, err, _ := s.defaults.Do(key, func() (interface{}, error) {
		return s.defaultSuggestionsWithQuerier(ctx, s.querier(), facetID, limit)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]string)
	return append([]string(nil), shared...), nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("suggestion query failed: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ftsMatch turns free text into an FTS5 query where every word must match
// as a prefix. Words without letters or digits are dropped.
func ftsMatch(text string) string {
	var terms []string
	for _, word := range strings.Fields(text) {
		if !strings.ContainsFunc(word, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(word, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}

// ftsAny builds an FTS5 query matching any of the given keywords exactly
func ftsAny(keywords []string) string {
	var terms []string
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(k, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// buildFilter translates the query and facet filters into a WHERE clause
func buildFilter(req types.ResultsRequest) (string, []interface{}, error) {
	var conds []string
	var args []interface{}

	if match := ftsMatch(req.Query); match != "" {
		conds = append(conds, "m.id IN (SELECT rowid FROM members_fts WHERE members_fts MATCH ?)")
		args = append(args, match)
	}

	// Deterministic SQL for identical requests
	ids := make([]string, 0, len(req.Filters))
	for id := range req.Filters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		values := req.Filters[id]
		if len(values) == 0 {
			continue
		}
		if id == types.FacetKeywords {
			if match := ftsAny(values); match != "" {
				conds = append(conds, "m.id IN (SELECT rowid FROM members_fts WHERE members_fts MATCH ?)")
				args = append(args, match)
			}
			continue
		}
		col, ok := facetColumns[id]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownFacet, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		conds = append(conds, fmt.Sprintf("m.%s IN (%s)", col, placeholders))
		for _, v := range values {
			args = append(args, v)
		}
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildOrder(sortSpec *types.Sort) (string, error) {
	if sortSpec == nil || sortSpec.Field == "" {
		return "ORDER BY m.id", nil
	}
	expr, ok := sortColumns[sortSpec.Field]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSortField, sortSpec.Field)
	}
	dir := "ASC"
	if sortSpec.Direction == types.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, m.id", expr, dir), nil
}

func (s *SQLiteStorage) resultsWithQuerier(ctx context.Context, q querier, req types.ResultsRequest) (types.ResultsPage, error) {
	if err := req.Validate(); err != nil {
		return types.ResultsPage{}, err
	}
	where, args, err := buildFilter(req)
	if err != nil {
		return types.ResultsPage{}, err
	}
	order, err := buildOrder(req.Sort)
	if err != nil {
		return types.ResultsPage{}, err
	}

	var page types.ResultsPage
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM members m "+where, args...).Scan(&page.Total); err != nil {
		return types.ResultsPage{}, fmt.Errorf("failed to count results: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM members m %s %s LIMIT ? OFFSET ?",
		prefixed(memberColumns, "m."), where, order)
	rows, err := q.QueryContext(ctx, query, append(args, req.PageSize, req.Offset())...)
	if err != nil {
		return types.ResultsPage{}, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	page.Items = []types.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return types.ResultsPage{}, err
		}
		page.Items = append(page.Items, *m)
	}
	return page, rows.Err()
}

// Results returns one page of members matching the request, with the total
// number of matches
func (s *SQLiteStorage) Results(ctx context.Context, req types.ResultsRequest) (types.ResultsPage, error) {
	return s.resultsWithQuerier(ctx, s.querier(), req)
}

// prefixed qualifies a comma separated column list with a table alias
func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
