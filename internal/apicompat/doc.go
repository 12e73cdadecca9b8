// Package apicompat holds contract tests for the occupancy HTTP API. They run
// against a live server at API_BASE_URL and skip when none is reachable.
package apicompat
