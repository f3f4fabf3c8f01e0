package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/coalesce/adapter"
	"github.com/pithecene-io/coalesce/dedup"
	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/merge"
	"github.com/pithecene-io/coalesce/progress"
	"github.com/pithecene-io/coalesce/session"
	"github.com/pithecene-io/coalesce/storage"
	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/types"
)

// Job is one merge over a snapshot of a user's pending artifacts. The job
// owns its inputs exclusively until they are deleted or requeued.
type Job struct {
	ID         string
	UserID     types.UserID
	ChatID     int64
	OutputName string
	Inputs     []types.ArtifactRef
	StartedAt  time.Time
}

func newJob(user types.UserID, chatID int64, name string, inputs []types.ArtifactRef, at time.Time) *Job {
	return &Job{
		ID:         uuid.NewString(),
		UserID:     user,
		ChatID:     chatID,
		OutputName: name,
		Inputs:     inputs,
		StartedAt:  at,
	}
}

// OutputKey is where the job writes its merged artifact.
func (j *Job) OutputKey() string {
	return storage.OutputKey(j.ID, j.OutputName)
}

func (j *Job) inputKeys() []string {
	keys := make([]string, len(j.Inputs))
	for i, ref := range j.Inputs {
		keys[i] = ref.Key
	}
	return keys
}

// JobResult describes a finished job.
type JobResult struct {
	Job      *Job
	Outcome  string
	Err      error
	Merge    merge.Result
	Duration time.Duration
}

// runJob merges, delivers and cleans up. Any storage or delivery failure
// aborts the job and returns its inputs to the session.
func (c *Coordinator) runJob(ctx context.Context, sess *session.Session, job *Job) *JobResult {
	logger := c.logger.WithUser(job.UserID).WithJob(job.ID)
	c.metrics.IncJobStarted()
	logger.Info("merge started", map[string]any{
		"inputs": len(job.Inputs),
		"output": job.OutputName,
	})

	progressMsg, err := c.transport.SendText(ctx, job.ChatID, mergingText(len(job.Inputs)), transport.WithMarkdown())
	if transport.BestEffort(logger, "send progress", err) {
		sess.SetProgressHandle(progressMsg)
	}

	reporter := progress.NewReporter(
		func(ctx context.Context, u progress.Update) error {
			if progressMsg.IsZero() {
				return nil
			}
			return c.transport.EditText(ctx, progressMsg, u.Text())
		},
		progress.WithInterval(c.cfg.ProgressInterval),
		progress.WithBaseline(0),
		progress.WithLogger(logger),
	)

	merger := &merge.Merger{ChunkLines: c.cfg.ChunkLines, Observer: reporter}
	set := dedup.New()
	res, err := merger.Merge(ctx, c.store.Inputs(job.Inputs), set)
	c.metrics.AddProgress(reporter.Stats())
	if err != nil {
		return c.abort(ctx, sess, job, res, fmt.Errorf("merge: %w", err))
	}

	if err := c.writeOutput(ctx, job.OutputKey(), set); err != nil {
		return c.abort(ctx, sess, job, res, err)
	}

	sess.Deliver()
	if err := c.deliver(ctx, job); err != nil {
		return c.abort(ctx, sess, job, res, err)
	}

	// Delivered: the inputs and output are no longer needed.
	if err := c.store.DeleteAll(ctx, append(job.inputKeys(), job.OutputKey())); err != nil {
		logger.Warn("artifact cleanup incomplete", map[string]any{"error": err.Error()})
	}
	c.clearMessages(ctx, sess, logger)

	remaining := sess.Finish()
	c.metrics.IncJobCompleted(int64(res.Unique), res.ProcessedBytes)

	result := &JobResult{
		Job:      job,
		Outcome:  adapter.OutcomeDelivered,
		Merge:    res,
		Duration: c.now().Sub(job.StartedAt),
	}
	logger.Info("merge delivered", map[string]any{
		"unique":      res.Unique,
		"lines_read":  res.LinesRead,
		"bytes":       res.ProcessedBytes,
		"duration_ms": result.Duration.Milliseconds(),
		"pending":     remaining,
	})
	c.publish(ctx, result, logger)

	// Uploads that arrived mid-job start a fresh cycle.
	if remaining > 0 {
		c.refreshStatus(ctx, sess, remaining)
		c.arm(job.UserID)
	}
	return result
}

// writeOutput streams the set into storage.
func (c *Coordinator) writeOutput(ctx context.Context, key string, set *dedup.Set) error {
	pr, pw := io.Pipe()

	var g errgroup.Group
	g.Go(func() error {
		_, err := set.WriteTo(pw)
		pw.CloseWithError(err)
		return err
	})

	_, putErr := c.store.PutKey(ctx, key, pr)
	pr.CloseWithError(putErr)
	writeErr := g.Wait()

	if putErr != nil {
		return fmt.Errorf("write output: %w", putErr)
	}
	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return fmt.Errorf("write output: %w", writeErr)
	}
	return nil
}

// deliver reads the output back from storage and hands it to the
// transport.
func (c *Coordinator) deliver(ctx context.Context, job *Job) (err error) {
	rc, err := c.store.Open(ctx, job.OutputKey())
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	defer iox.CloseErr(rc, &err)

	if err := c.transport.SendArtifact(ctx, job.ChatID, job.OutputName, rc); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	return nil
}

// clearMessages removes the progress, upload and status messages.
func (c *Coordinator) clearMessages(ctx context.Context, sess *session.Session, logger *log.Logger) {
	if h := sess.TakeProgressHandle(); !h.IsZero() {
		transport.BestEffort(logger, "delete progress", c.transport.DeleteMessage(ctx, h))
	}
	for _, h := range sess.TakeUploads() {
		transport.BestEffort(logger, "delete upload", c.transport.DeleteMessage(ctx, h))
	}
	if h := sess.TakeStatusHandle(); !h.IsZero() {
		transport.BestEffort(logger, "delete status", c.transport.DeleteMessage(ctx, h))
	}
}

// abort keeps the inputs in storage, puts them back at the front of the
// queue and tells the user. The next trigger retries them.
func (c *Coordinator) abort(ctx context.Context, sess *session.Session, job *Job, res merge.Result, cause error) *JobResult {
	logger := c.logger.WithUser(job.UserID).WithJob(job.ID)

	// The job context may be the reason for the abort; cleanup still gets
	// a bounded window.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := c.store.Delete(cleanupCtx, job.OutputKey()); err != nil {
		logger.Debug("output cleanup failed", map[string]any{"error": err.Error()})
	}
	if h := sess.TakeProgressHandle(); !h.IsZero() {
		transport.BestEffort(logger, "delete progress", c.transport.DeleteMessage(cleanupCtx, h))
	}

	pending := sess.Requeue(job.Inputs)
	c.metrics.IncJobFailed()

	_, err := c.transport.SendText(cleanupCtx, job.ChatID, mergeFailedText(cause))
	transport.BestEffort(logger, "failure reply", err)

	result := &JobResult{
		Job:      job,
		Outcome:  adapter.OutcomeFailed,
		Err:      cause,
		Merge:    res,
		Duration: c.now().Sub(job.StartedAt),
	}
	logger.Error("merge failed", map[string]any{
		"error":   cause.Error(),
		"pending": pending,
	})
	c.publish(cleanupCtx, result, logger)
	return result
}

// publish sends the completion notification, if an adapter is configured.
func (c *Coordinator) publish(ctx context.Context, result *JobResult, logger *log.Logger) {
	if c.adapter == nil {
		return
	}
	event := adapter.NewEvent(result.Job.ID, result.Job.UserID, c.now())
	event.OutputName = result.Job.OutputName
	event.Outcome = result.Outcome
	event.Inputs = len(result.Job.Inputs)
	event.UniqueLines = result.Merge.Unique
	event.BytesProcessed = result.Merge.ProcessedBytes
	event.StorageBackend = c.store.Backend()
	event.DurationMs = result.Duration.Milliseconds()
	if result.Err != nil {
		event.Error = result.Err.Error()
	}

	if err := c.adapter.Publish(ctx, event); err != nil {
		c.metrics.IncPublishFailure()
		logger.Warn("completion notification failed", map[string]any{"error": err.Error()})
	}
}
