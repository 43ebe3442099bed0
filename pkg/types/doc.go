// Package types provides shared type definitions for the member directory.
//
// These types cross package boundaries: the storage layer fills them, the
// directory controller builds requests from them and the MCP server renders
// them as JSON.
//
// # Core Types
//
// Member is a directory profile loaded by the importer:
//
//	m := &types.Member{
//	    Username:     "ada",
//	    Role:         "Researcher",
//	    Organization: "Analytical Engines Ltd",
//	    CareerStage:  types.StageSenior,
//	}
//	m.Normalize()
//	if err := m.Validate(); err != nil { ... }
//
// ResultsRequest describes one page of a filtered, sorted directory listing:
//
//	req := types.ResultsRequest{
//	    Query:    "graph",
//	    Filters:  map[string][]string{types.FacetRole: {"Researcher"}},
//	    Sort:     &types.Sort{Field: "karma", Direction: types.Desc},
//	    Page:     1,
//	    PageSize: 25,
//	}
//
// # Facets
//
// Facet identifiers name the filterable fields. Field facets (role,
// organization, career_stage, location) match member fields exactly;
// the keywords facet matches through the full-text index.
package types
