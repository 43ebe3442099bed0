// Package mcp implements the Model Context Protocol (MCP) server for memberdir.
//
// The server exposes the member directory to MCP clients as a set of tools
// acting on directory sessions. A session is one directory view: a free-text
// query, facet selections, a sort, visible columns and the pages loaded so
// far. Sessions are created with open_directory and addressed by the
// session_id it returns.
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries the protocol, so all logging goes to stderr.
//
// # Basic Usage
//
//	memberdir serve
//
// # Tools
//
// Session lifecycle:
//   - open_directory: open a session for a profile and load page 1
//   - close_directory: close a session
//   - get_directory_state: return the session state
//
// Query and facets:
//   - set_query: set the free-text query
//   - search_facet: look up suggestions for a facet
//   - toggle_facet_option: select or deselect a listed option
//   - clear_facet: clear one facet, or the query and every facet
//
// Sort, columns and paging:
//   - set_sort: sort by a column, or restore the default sort
//   - toggle_column: show or hide a column
//   - reset_columns: restore default column visibility
//   - load_more: load the next page
//
// Data:
//   - import_members: import profile files
//   - get_status: database statistics and the last import
//
// # Example
//
//	Request:
//	{
//	  "name": "toggle_facet_option",
//	  "arguments": {
//	    "session_id": "6f1c...",
//	    "facet": "role",
//	    "value": "Researcher"
//	  }
//	}
//
//	Response:
//	{
//	  "session_id": "6f1c...",
//	  "toggled": true,
//	  "state": {
//	    "query": "",
//	    "facets": [...],
//	    "sort": {"field": "name", "direction": "asc"},
//	    "results": [...],
//	    "total_results": 42,
//	    "load_state": "loaded",
//	    "has_more": true
//	  }
//	}
//
// Tools that start lookups wait for them to settle, up to
// Config.SettleTimeout, before returning the state. A state returned with
// "loading": true is still being fetched; call get_directory_state later.
//
// # Error Codes
//
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32001: Session not found
//   - -32002: Import already in progress
//   - -32003: Column not sortable (strict mode)
//   - -32004: Too many open sessions
package mcp
