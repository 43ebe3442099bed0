package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/memberdir/pkg/types"
)

// sessionIDProperty is shared by every tool that acts on an open directory
func sessionIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session id returned by open_directory",
	}
}

func facetProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Facet id",
		"enum": []string{
			types.FacetRole, types.FacetOrganization, types.FacetCareerStage,
			types.FacetLocation, types.FacetKeywords,
		},
	}
}

// openDirectoryTool returns the tool definition for open_directory
func openDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "open_directory",
		Description: "Open a member directory session and load the first page of results",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"profile": map[string]interface{}{
					"type":        "string",
					"description": "Profile whose column preferences are loaded and saved",
					"default":     "default",
				},
				"page_size": map[string]interface{}{
					"type":        "integer",
					"description": "Results per page (1-200)",
					"minimum":     1,
					"maximum":     200,
				},
			},
		},
	}
}

// closeDirectoryTool returns the tool definition for close_directory
func closeDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "close_directory",
		Description: "Close a directory session, cancelling any in-flight lookups",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// getDirectoryStateTool returns the tool definition for get_directory_state
func getDirectoryStateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_directory_state",
		Description: "Return the query, facets, sort, columns and loaded results of a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// setQueryTool returns the tool definition for set_query
func setQueryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_query",
		Description: "Set the free-text query; every word must prefix-match a name, username or bio",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text query, empty to match everyone",
				},
			},
			Required: []string{"session_id", "query"},
		},
	}
}

// searchFacetTool returns the tool definition for search_facet
func searchFacetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_facet",
		Description: "Look up suggestions for a facet; selected options stay listed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"facet":      facetProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Suggestion query, empty for the most common values",
				},
			},
			Required: []string{"session_id", "facet", "query"},
		},
	}
}

// toggleFacetOptionTool returns the tool definition for toggle_facet_option
func toggleFacetOptionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "toggle_facet_option",
		Description: "Select or deselect a facet option currently listed for the facet",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"facet":      facetProperty(),
				"value": map[string]interface{}{
					"type":        "string",
					"description": "Option value as listed in the facet's options",
				},
			},
			Required: []string{"session_id", "facet", "value"},
		},
	}
}

// clearFacetTool returns the tool definition for clear_facet
func clearFacetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_facet",
		Description: "Deselect all options of a facet, or clear the query and every facet when no facet is given",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"facet":      facetProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// setSortTool returns the tool definition for set_sort
func setSortTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_sort",
		Description: "Sort results by a sortable column, or restore the default sort when no field is given",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"field": map[string]interface{}{
					"type":        "string",
					"description": "Column id to sort by",
				},
				"direction": map[string]interface{}{
					"type":        "string",
					"description": "Sort direction",
					"enum":        []string{string(types.Asc), string(types.Desc)},
					"default":     string(types.Asc),
				},
			},
			Required: []string{"session_id"},
		},
	}
}

// toggleColumnTool returns the tool definition for toggle_column
func toggleColumnTool() mcp.Tool {
	return mcp.Tool{
		Name:        "toggle_column",
		Description: "Show or hide a column; the choice is saved for the session's profile",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"column": map[string]interface{}{
					"type":        "string",
					"description": "Column id",
				},
			},
			Required: []string{"session_id", "column"},
		},
	}
}

// resetColumnsTool returns the tool definition for reset_columns
func resetColumnsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reset_columns",
		Description: "Restore default column visibility for the session's profile",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// loadMoreTool returns the tool definition for load_more
func loadMoreTool() mcp.Tool {
	return mcp.Tool{
		Name:        "load_more",
		Description: "Load the next page of results",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// importMembersTool returns the tool definition for import_members
func importMembersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_members",
		Description: "Import member profiles from .yaml, .yml or .json files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a profile file or a directory of profile files",
				},
				"include_hidden": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, descend into dot directories",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report directory database statistics and the last import",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
