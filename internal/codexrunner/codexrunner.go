// Package codexrunner launches the codex subprocess collaborator: the
// runner forks/execs and waits, never calling back into the event
// loop — it only writes its outcome to the database. The API layer
// polls the database for status. No AI functionality lives here; this
// is a narrow subprocess launcher the surrounding plumbing can
// exercise, grounded on the reference implementation's codex_run_start
// fork/exec/waitpid shape translated to os/exec.
package codexrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nutsloop/neonsignal/internal/db"
)

// Runner launches codex runs as subprocesses and persists their outcome.
type Runner struct {
	db          *db.Database
	command     string
	args        []string
	artifactDir string
	timeout     time.Duration
}

// New constructs a Runner. command/args name the external codex binary;
// this module never implements codex itself, only invokes it through a
// narrow interface.
func New(database *db.Database, command string, args []string, artifactDir string, timeout time.Duration) *Runner {
	return &Runner{db: database, command: command, args: args, artifactDir: artifactDir, timeout: timeout}
}

// Run starts a codex run for briefID and returns its run id immediately;
// the subprocess is awaited on a detached goroutine. Runners never call
// back into the loop directly; they only update the database.
func (r *Runner) Run(ctx context.Context, briefID string) (string, error) {
	runID, err := generateRunID()
	if err != nil {
		return "", fmt.Errorf("codexrunner: generate run id: %w", err)
	}

	runDir := filepath.Join(r.artifactDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("codexrunner: create run dir: %w", err)
	}

	run := db.CodexRun{
		ID:        runID,
		BriefID:   briefID,
		Status:    "running",
		Cmdline:   fmt.Sprintf("%s %v", r.command, r.args),
		CreatedAt: time.Now(),
		StartedAt: time.Now(),
	}
	if err := r.db.UpsertCodexRun(run); err != nil {
		return "", fmt.Errorf("codexrunner: persist initial run: %w", err)
	}

	go r.execute(runID, briefID, runDir, run)
	return runID, nil
}

func (r *Runner) execute(runID, briefID, runDir string, run db.CodexRun) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := append(append([]string{}, r.args...), briefID)
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = runDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	run.FinishedAt = time.Now()
	run.DurationMS = uint64(run.FinishedAt.Sub(run.StartedAt).Milliseconds())
	run.StdoutBytes = uint64(stdout.Len())
	run.StderrBytes = uint64(stderr.Len())

	os.WriteFile(filepath.Join(runDir, "stdout.log"), stdout.Bytes(), 0o644)
	os.WriteFile(filepath.Join(runDir, "stderr.log"), stderr.Bytes(), 0o644)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		run.Status = "timeout"
		run.Message = "codex run exceeded timeout and was killed"
	case runErr != nil:
		run.Status = "failed"
		run.Message = runErr.Error()
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			run.ExitCode = exitErr.ExitCode()
		}
	default:
		run.Status = "completed"
		run.ExitCode = 0
	}

	entries, _ := os.ReadDir(runDir)
	var artifacts uint64
	for _, e := range entries {
		if !e.IsDir() {
			artifacts++
		}
	}
	run.ArtifactCount = artifacts

	r.db.UpsertCodexRun(run)
}

func generateRunID() (string, error) {
	return db.GenerateVerificationTokenHex()
}
