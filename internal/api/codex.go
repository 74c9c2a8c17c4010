package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/nutsloop/neonsignal/internal/apierr"
)

// codexArtifactDir locates per-run codex artifacts under
// data/codex/runs/<run-id>/, rooted at the server's working dir.
func codexArtifactDir(deps *Deps, runID string) string {
	return filepath.Join(deps.Config.WorkingDir, "data", "codex", "runs", runID)
}

// handleCodexList implements GET /api/codex/list, backed purely by the
// persisted metadata; this module implements the persistence/status
// half only, never the codex content itself.
func handleCodexList(deps *Deps, req Request) (Response, *apierr.Error) {
	records, err := deps.DB.ListCodexRecords()
	if err != nil {
		return Response{}, apierr.Internal("list codex records", err)
	}
	return JSON(200, map[string]any{"items": records}), nil
}

// handleCodexItem implements GET /api/codex/item. The codex id is read
// from the x-codex-id request header; the query string is not read.
func handleCodexItem(deps *Deps, req Request) (Response, *apierr.Error) {
	id := req.Headers["x-codex-id"]
	if id == "" {
		return Response{}, apierr.Validation("missing codex id")
	}
	record, err := deps.DB.FetchCodexRecord(id)
	if err != nil {
		return Response{}, apierr.NotFound("unknown codex id")
	}
	return JSON(200, record), nil
}

type codexBriefBody struct {
	ID string `json:"id"`
	Title string `json:"title"`
	Description string `json:"description"`
	MetaTags string `json:"meta_tags"`
	FileRefs string `json:"file_refs"`
}

// handleCodexBrief implements POST /api/codex/brief — stores the
// content-entry metadata a later /api/codex/run/start will reference.
func handleCodexBrief(deps *Deps, req Request) (Response, *apierr.Error) {
	var body codexBriefBody
	if err := json.Unmarshal(req.Body, &body); err != nil || body.ID == "" {
		return Response{}, apierr.Validation("malformed request body")
	}
	existing, err := deps.DB.FetchCodexRecord(body.ID)
	if err != nil {
		existing.ID = body.ID
		existing.CreatedAt = time.Now()
	}
	existing.Title = body.Title
	existing.Description = body.Description
	existing.MetaTags = body.MetaTags
	existing.FileRefs = body.FileRefs

	if err := deps.DB.StoreCodexRecord(existing); err != nil {
		return Response{}, apierr.Internal("store codex record", err)
	}
	return JSON(200, map[string]any{"ok": true, "id": existing.ID}), nil
}

type codexRunStartBody struct {
	BriefID string `json:"brief_id"`
}

// handleCodexRunStart implements POST /api/codex/run/start.
func handleCodexRunStart(deps *Deps, req Request) (Response, *apierr.Error) {
	if deps.CodexRunner == nil {
		return Response{}, apierr.Internal("codex runner not configured", nil)
	}
	var body codexRunStartBody
	if err := json.Unmarshal(req.Body, &body); err != nil || body.BriefID == "" {
		return Response{}, apierr.Validation("malformed request body")
	}
	if _, err := deps.DB.FetchCodexRecord(body.BriefID); err != nil {
		return Response{}, apierr.NotFound("unknown brief id")
	}

	runID, err := deps.CodexRunner.Run(context.Background(), body.BriefID)
	if err != nil {
		return Response{}, apierr.Internal("start codex run", err)
	}
	return JSON(200, map[string]any{"ok": true, "run_id": runID}), nil
}

// handleCodexRunStatus implements GET /api/codex/run/status. The run id
// is read from the x-run-id request header; the query string is not read.
func handleCodexRunStatus(deps *Deps, req Request) (Response, *apierr.Error) {
	runID := req.Headers["x-run-id"]
	if runID == "" {
		return Response{}, apierr.Validation("missing run id")
	}
	run, err := deps.DB.FetchCodexRun(runID)
	if err != nil {
		return Response{}, apierr.NotFound("unknown run id")
	}
	return JSON(200, run), nil
}

// handleCodexRunStdout implements GET /api/codex/run/stdout (run id from
// the x-run-id request header).
func handleCodexRunStdout(deps *Deps, req Request) (Response, *apierr.Error) {
	return serveCodexRunLog(deps, req, "stdout.log")
}

// handleCodexRunStderr implements GET /api/codex/run/stderr (run id from
// the x-run-id request header).
func handleCodexRunStderr(deps *Deps, req Request) (Response, *apierr.Error) {
	return serveCodexRunLog(deps, req, "stderr.log")
}

func serveCodexRunLog(deps *Deps, req Request, filename string) (Response, *apierr.Error) {
	runID := req.Headers["x-run-id"]
	if runID == "" {
		return Response{}, apierr.Validation("missing run id")
	}
	if _, err := deps.DB.FetchCodexRun(runID); err != nil {
		return Response{}, apierr.NotFound("unknown run id")
	}
	data, err := os.ReadFile(filepath.Join(codexArtifactDir(deps, runID), filename))
	if err != nil {
		return Response{}, apierr.NotFound("run log not available yet")
	}
	return Response{Status: 200, ContentType: "text/plain; charset=utf-8", Body: data}, nil
}
