// Package scheduler submits migration jobs to an external scheduler CLI and
// tracks them to completion by polling its runs feed.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strconv"
	"time"
)

// Request describes one job submission. Exactly one of AtOffset and
// AtTimestamp is set; the two express the same "run immediately" instant on
// the two wire variants the CLI understands.
type Request struct {
	SessionTarget  string
	SessionName    string
	Message        string
	Model          string
	TimeoutSeconds int
	DeleteAfterRun bool
	Announce       bool
	AtOffset       string
	AtTimestamp    string
}

// RunEntry is one record from the scheduler's runs feed.
type RunEntry struct {
	JobID     string    `json:"jobId"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionFinished marks a terminal runs-feed entry.
const ActionFinished = "finished"

// Scheduler is the transport boundary to the external job scheduler. The
// orchestrator and its tests only ever see this interface; the concrete
// implementation shells out to a CLI.
type Scheduler interface {
	// Schedule submits a job and returns its opaque id.
	Schedule(ctx context.Context, req Request) (string, error)
	// Runs returns up to limit recent runs-feed entries for a job.
	Runs(ctx context.Context, jobID string, limit int) ([]RunEntry, error)
	// Remove deletes a job definition.
	Remove(ctx context.Context, jobID string) error
}

// CLIScheduler implements Scheduler by invoking the scheduler binary
// (default "openclaw") with JSON output.
type CLIScheduler struct {
	// Binary is the scheduler executable name or path.
	Binary string
}

// NewCLIScheduler returns a CLIScheduler for the given binary, defaulting to
// "openclaw" when empty.
func NewCLIScheduler(binary string) *CLIScheduler {
	if binary == "" {
		binary = "openclaw"
	}
	return &CLIScheduler{Binary: binary}
}

type scheduleResponse struct {
	JobID string `json:"jobId"`
}

type runsResponse struct {
	Entries []RunEntry `json:"entries"`
}

// Schedule submits a job via `<binary> jobs create --json`.
func (c *CLIScheduler) Schedule(ctx context.Context, req Request) (string, error) {
	args := []string{
		"jobs", "create",
		"--json",
		"--session", req.SessionTarget,
		"--name", req.SessionName,
		"--message", req.Message,
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.TimeoutSeconds > 0 {
		args = append(args, "--timeout-seconds", strconv.Itoa(req.TimeoutSeconds))
	}
	if req.DeleteAfterRun {
		args = append(args, "--delete-after-run")
	}
	if !req.Announce {
		args = append(args, "--no-announce")
	}
	switch {
	case req.AtOffset != "":
		args = append(args, "--in", req.AtOffset)
	case req.AtTimestamp != "":
		args = append(args, "--at", req.AtTimestamp)
	}

	out, err := c.run(ctx, args)
	if err != nil {
		return "", err
	}

	var resp scheduleResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", newError(KindInvalidJSON, err, "unparsable schedule response")
	}
	if resp.JobID == "" {
		return "", newError(KindInvalidJSON, nil, "schedule response missing jobId")
	}
	return resp.JobID, nil
}

// Runs polls the runs feed via `<binary> jobs runs --json`.
func (c *CLIScheduler) Runs(ctx context.Context, jobID string, limit int) ([]RunEntry, error) {
	args := []string{"jobs", "runs", "--json", "--job", jobID}
	if limit > 0 {
		args = append(args, "--limit", strconv.Itoa(limit))
	}

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var resp runsResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, newError(KindInvalidJSON, err, "unparsable runs response for job %s", jobID)
	}
	return resp.Entries, nil
}

// Remove deletes a job definition. Callers treat failures as advisory.
func (c *CLIScheduler) Remove(ctx context.Context, jobID string) error {
	_, err := c.run(ctx, []string{"jobs", "delete", "--job", jobID})
	return err
}

// run executes the scheduler binary and returns its stdout.
func (c *CLIScheduler) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, newError(KindCLINotFound, err, "scheduler binary %q not found", c.Binary)
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return nil, newError(KindCommandFailed, err, "%s %s failed: %s", c.Binary, args[0]+" "+args[1], detail)
	}
	return stdout.Bytes(), nil
}

// instantRequests returns the two wire variants of req expressing "run
// immediately": a relative offset first, then an absolute timestamp.
func instantRequests(req Request, now time.Time) [2]Request {
	rel := req
	rel.AtOffset = "+2s"
	rel.AtTimestamp = ""

	abs := req
	abs.AtOffset = ""
	abs.AtTimestamp = now.Add(2 * time.Second).UTC().Format(time.RFC3339)

	return [2]Request{rel, abs}
}

var _ Scheduler = (*CLIScheduler)(nil)
