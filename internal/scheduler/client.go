package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	submitRetries     = 3
	submitBackoffBase = 900 * time.Millisecond
	submitBackoffCap  = 6 * time.Second

	pollRetries     = 5
	pollBackoffBase = 1 * time.Second
	pollBackoffCap  = 8 * time.Second

	defaultPollInterval = 3 * time.Second
	runsFeedLimit       = 20
)

// deliveryFailureSignatures are job error texts that mean the job's work
// succeeded but the final announce/notify step could not be delivered. A job
// reporting one of these with a non-empty summary is treated as successful.
var deliveryFailureSignatures = []string{
	"delivery target is missing",
	"no delivery target",
	"announce target not found",
}

// SubmitOptions carries the per-job knobs forwarded to the scheduler.
type SubmitOptions struct {
	Model          string
	SessionTarget  string
	SessionName    string
	TimeoutSeconds int
	DeleteAfterRun bool
	Announce       bool
}

// JobClient wraps a Scheduler with the retry, transport-fallback, and
// polling policies jobs need on an unreliable substrate.
type JobClient struct {
	scheduler Scheduler

	// PollInterval is the delay between runs-feed polls. Zero means the
	// default of 3s.
	PollInterval time.Duration
	// OnDebug, when set, receives fine-grained poll/retry lines.
	OnDebug func(line string)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJobClient returns a JobClient over the given scheduler.
func NewJobClient(s Scheduler) *JobClient {
	return &JobClient{
		scheduler:    s,
		PollInterval: defaultPollInterval,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *JobClient) debugf(format string, args ...any) {
	if c.OnDebug != nil {
		c.OnDebug(fmt.Sprintf(format, args...))
	}
}

// backoff returns the delay before attempt n (0-based), capped.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// Submit schedules one job and returns its id. It tries the relative-offset
// transport first and falls back to the absolute-timestamp transport; each
// transport attempt retries up to 3 times with exponential backoff. A
// CLI_NOT_FOUND error aborts immediately.
func (c *JobClient) Submit(ctx context.Context, payload string, opts SubmitOptions) (string, error) {
	req := Request{
		SessionTarget:  opts.SessionTarget,
		SessionName:    opts.SessionName,
		Message:        payload,
		Model:          opts.Model,
		TimeoutSeconds: opts.TimeoutSeconds,
		DeleteAfterRun: opts.DeleteAfterRun,
		Announce:       opts.Announce,
	}

	var lastErr error
	for ti, variant := range instantRequests(req, c.now()) {
		for attempt := 0; attempt < submitRetries; attempt++ {
			jobID, err := c.scheduler.Schedule(ctx, variant)
			if err == nil {
				return jobID, nil
			}
			if IsFatal(err) {
				return "", err
			}
			lastErr = err
			c.debugf("submit transport %d attempt %d failed: %v", ti+1, attempt+1, err)
			if attempt < submitRetries-1 {
				if serr := c.sleep(ctx, backoff(submitBackoffBase, submitBackoffCap, attempt)); serr != nil {
					return "", serr
				}
			}
		}
	}
	return "", newError(KindSchedulingFailed, lastErr, "both scheduling transports exhausted for session %q", opts.SessionName)
}

// AwaitCompletion polls the runs feed until a finished entry for jobID
// appears or the timeout elapses, and returns the finished summary.
//
// Transient polling failures are retried up to 5 consecutive times with
// exponential backoff before escalating. A finished entry with a non-ok
// status is a terminal failure unless its error text matches a known
// delivery-failure signature and a summary is still present.
func (c *JobClient) AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) (string, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := c.now().Add(timeout)
	consecutiveFailures := 0

	for {
		if c.now().After(deadline) {
			return "", newError(KindTimeout, nil, "job %s did not finish within %s", jobID, timeout)
		}

		entries, err := c.scheduler.Runs(ctx, jobID, runsFeedLimit)
		if err != nil {
			if IsFatal(err) {
				return "", err
			}
			consecutiveFailures++
			c.debugf("poll %s failed (%d/%d): %v", jobID, consecutiveFailures, pollRetries, err)
			if consecutiveFailures >= pollRetries {
				return "", err
			}
			if serr := c.sleep(ctx, backoff(pollBackoffBase, pollBackoffCap, consecutiveFailures-1)); serr != nil {
				return "", serr
			}
			continue
		}
		consecutiveFailures = 0

		if entry, ok := latestFinished(entries, jobID); ok {
			return finishedSummary(jobID, entry)
		}

		c.debugf("poll %s: no finished entry yet", jobID)
		if serr := c.sleep(ctx, interval); serr != nil {
			return "", serr
		}
	}
}

// Remove deletes the job definition, swallowing all errors.
func (c *JobClient) Remove(ctx context.Context, jobID string) {
	if err := c.scheduler.Remove(ctx, jobID); err != nil {
		c.debugf("remove %s failed: %v", jobID, err)
	}
}

// latestFinished picks the newest finished entry for jobID, by the entry's
// own timestamp.
func latestFinished(entries []RunEntry, jobID string) (RunEntry, bool) {
	var finished []RunEntry
	for _, e := range entries {
		if e.Action == ActionFinished && (e.JobID == "" || e.JobID == jobID) {
			finished = append(finished, e)
		}
	}
	if len(finished) == 0 {
		return RunEntry{}, false
	}
	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].Timestamp.Before(finished[j].Timestamp)
	})
	return finished[len(finished)-1], true
}

// finishedSummary resolves a finished entry into a summary or terminal error.
func finishedSummary(jobID string, entry RunEntry) (string, error) {
	if entry.Status == "ok" {
		return entry.Summary, nil
	}
	if isDeliveryFailure(entry.Error) && strings.TrimSpace(entry.Summary) != "" {
		return entry.Summary, nil
	}
	msg := entry.Error
	if msg == "" {
		msg = "no error detail"
	}
	return "", newError(KindJobFailed, nil, "job %s finished with status %q: %s", jobID, entry.Status, msg)
}

func isDeliveryFailure(errText string) bool {
	lower := strings.ToLower(errText)
	for _, sig := range deliveryFailureSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
