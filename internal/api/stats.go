package api

import (
	"github.com/nutsloop/neonsignal/internal/apierr"
)

// handleStats implements GET /api/stats — a small operator-facing
// summary, grounded on the original's diagnostics endpoints
// (list_certificates/list_users style counters) rather than any single
// api_handler/*.c++ file.
func handleStats(deps *Deps, req Request) (Response, *apierr.Error) {
	userCount, err := deps.DB.CountUsers()
	if err != nil {
		return Response{}, apierr.Internal("count users", err)
	}
	records, err := deps.DB.ListCodexRecords()
	if err != nil {
		return Response{}, apierr.Internal("list codex records", err)
	}
	return JSON(200, map[string]any{
		"users":        userCount,
		"codex_items":  len(records),
	}), nil
}
