// Package runtime drives the per-user merge lifecycle.
//
// The Coordinator receives inbound events, stores uploads, debounces
// bursts, prompts for an output name, runs the merge job and delivers the
// result. A user moves through Collecting, AwaitingName, Merging and
// Delivering, then back to Collecting. Users are independent; one user has
// at most one job in flight.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/coalesce/adapter"
	"github.com/pithecene-io/coalesce/debounce"
	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/merge"
	"github.com/pithecene-io/coalesce/metrics"
	"github.com/pithecene-io/coalesce/progress"
	"github.com/pithecene-io/coalesce/session"
	"github.com/pithecene-io/coalesce/storage"
	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/types"
)

// ErrUnsupportedArtifact is returned for uploads without ArtifactExt, after
// the user has been warned.
var ErrUnsupportedArtifact = fmt.Errorf("unsupported artifact type: %w", transport.ErrRejected)

// cleanupTimeout bounds best-effort messages sent after the job context
// was cancelled.
const cleanupTimeout = 10 * time.Second

// Config tunes the coordinator.
type Config struct {
	// ChunkLines is the merger chunk size (default merge.DefaultChunkLines).
	ChunkLines int
	// ProgressInterval is the byte interval between progress edits
	// (default progress.DefaultInterval).
	ProgressInterval int64
}

// Deps are the coordinator's collaborators. Adapter and Metrics are
// optional.
type Deps struct {
	Transport transport.Transport
	Store     *storage.Store
	Sessions  *session.Registry
	Scheduler *debounce.Scheduler[types.UserID]
	Adapter   adapter.Adapter
	Metrics   *metrics.Collector
	Logger    *log.Logger
}

// Coordinator implements transport.Handler.
type Coordinator struct {
	cfg       Config
	transport transport.Transport
	store     *storage.Store
	sessions  *session.Registry
	scheduler *debounce.Scheduler[types.UserID]
	adapter   adapter.Adapter
	metrics   *metrics.Collector
	logger    *log.Logger
	now       func() time.Time

	// ctx is the parent of work not tied to an inbound event: debounce
	// expiries and merge jobs.
	ctx  context.Context
	jobs sync.WaitGroup

	mu       sync.Mutex
	onResult func(*JobResult)
}

var _ transport.Handler = (*Coordinator)(nil)

// NewCoordinator validates deps and returns a coordinator whose background
// work runs under ctx.
func NewCoordinator(ctx context.Context, cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("coordinator requires a transport")
	case deps.Store == nil:
		return nil, errors.New("coordinator requires a store")
	case deps.Sessions == nil:
		return nil, errors.New("coordinator requires a session registry")
	case deps.Scheduler == nil:
		return nil, errors.New("coordinator requires a scheduler")
	}
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = merge.DefaultChunkLines
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = progress.DefaultInterval
	}

	return &Coordinator{
		cfg:       cfg,
		transport: deps.Transport,
		store:     deps.Store,
		sessions:  deps.Sessions,
		scheduler: deps.Scheduler,
		adapter:   deps.Adapter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
		ctx:       ctx,
	}, nil
}

// OnResult registers a callback invoked after every job, delivered or
// failed.
func (c *Coordinator) OnResult(fn func(*JobResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// HandleEvent routes an inbound event.
func (c *Coordinator) HandleEvent(ctx context.Context, ev transport.Event) error {
	switch ev.Kind {
	case transport.EventArtifact:
		return c.HandleArtifact(ctx, ev)
	case transport.EventText:
		return c.HandleText(ctx, ev)
	case transport.EventTrigger:
		return c.HandleTrigger(ctx, ev)
	case transport.EventStart:
		return c.HandleStart(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// HandleStart greets the user and offers the merge-now button.
func (c *Coordinator) HandleStart(ctx context.Context, ev transport.Event) error {
	_, err := c.transport.SendText(ctx, ev.ChatID, startText(c.scheduler.Window()),
		transport.WithButtons(transport.Button{Text: MergeNowLabel, Data: transport.TriggerData}))
	if err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

// HandleArtifact stores an upload, queues it and restarts the quiet
// window. Uploads arriving while a name is awaited or a job is running are
// queued for the next job without arming the timer.
func (c *Coordinator) HandleArtifact(ctx context.Context, ev transport.Event) error {
	if ev.File == nil {
		return errors.New("artifact event without file")
	}
	logger := c.logger.WithUser(ev.UserID)

	if !IsSupported(ev.File.Name) {
		c.metrics.IncArtifactRejected()
		_, err := c.transport.SendText(ctx, ev.ChatID, UnsupportedText)
		transport.BestEffort(logger, "unsupported reply", err)
		return fmt.Errorf("%s: %w", ev.File.Name, ErrUnsupportedArtifact)
	}

	sess := c.sessions.Acquire(ev.UserID)
	defer c.sessions.Release(sess)

	ref, err := c.storeUpload(ctx, *ev.File)
	if err != nil {
		_, sendErr := c.transport.SendText(ctx, ev.ChatID, uploadFailedText(err))
		transport.BestEffort(logger, "upload failure reply", sendErr)
		return err
	}
	c.metrics.IncArtifactReceived()

	// The upload is removed from the chat right away; only a failed
	// delete is remembered for retry after delivery.
	var upload types.MessageHandle
	if !ev.Message.IsZero() && !transport.BestEffort(logger, "delete upload", c.transport.DeleteMessage(ctx, ev.Message)) {
		upload = ev.Message
	}

	count, phase := sess.Enqueue(ref, upload)
	logger.Info("artifact queued", map[string]any{
		"key":     ref.Key,
		"size":    ref.Size,
		"pending": count,
		"phase":   phase.String(),
	})

	c.refreshStatus(ctx, sess, count)
	if phase == session.Collecting {
		c.arm(ev.UserID)
	}
	return nil
}

func (c *Coordinator) storeUpload(ctx context.Context, file transport.FileRef) (types.ArtifactRef, error) {
	rc, err := c.transport.Fetch(ctx, file)
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("fetch %s: %w", file.Name, err)
	}
	defer iox.DiscardClose(rc)

	ref, err := c.store.Put(ctx, file.Name, rc)
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("store %s: %w", file.Name, err)
	}
	return ref, nil
}

// HandleTrigger skips the quiet window. With nothing queued it only
// answers the button press.
func (c *Coordinator) HandleTrigger(ctx context.Context, ev transport.Event) error {
	logger := c.logger.WithUser(ev.UserID)

	sess, ok := c.sessions.Lookup(ev.UserID)
	if !ok || sess.PendingCount() == 0 {
		if ev.CallbackID != "" {
			transport.BestEffort(logger, "acknowledge", c.transport.Acknowledge(ctx, ev.CallbackID, NothingQueued))
		}
		return nil
	}

	if ev.CallbackID != "" {
		transport.BestEffort(logger, "acknowledge", c.transport.Acknowledge(ctx, ev.CallbackID, ""))
	}
	if !ev.Message.IsZero() {
		transport.BestEffort(logger, "edit trigger", c.transport.EditText(ctx, ev.Message, TriggeredText))
	}

	c.scheduler.Trigger(ev.UserID, func() { c.requestName(ctx, ev.UserID) })
	return nil
}

// HandleText takes the reply to the name prompt and starts the job. Text
// at any other time is ignored.
func (c *Coordinator) HandleText(ctx context.Context, ev transport.Event) error {
	existing, ok := c.sessions.Lookup(ev.UserID)
	if !ok || existing.Phase() != session.AwaitingName {
		return nil
	}

	sess := c.sessions.Acquire(ev.UserID)
	snapshot, ok := sess.BeginMerge()
	if !ok {
		c.sessions.Release(sess)
		return nil
	}

	name := NormalizeName(ev.Text)
	_, err := c.transport.SendText(ctx, ev.ChatID, nameSetText(name), transport.WithMarkdown())
	transport.BestEffort(c.logger.WithUser(ev.UserID), "name confirmation", err)

	job := newJob(ev.UserID, ev.ChatID, name, snapshot, c.now())
	c.jobs.Go(func() {
		res := c.runJob(c.ctx, sess, job)
		c.sessions.Release(sess)
		c.mu.Lock()
		fn := c.onResult
		c.mu.Unlock()
		if fn != nil {
			fn(res)
		}
	})
	return nil
}

// arm restarts the quiet window for user.
func (c *Coordinator) arm(user types.UserID) {
	c.scheduler.Arm(user, func() { c.requestName(c.ctx, user) })
}

// requestName prompts for the output name if the session has work and is
// not already prompting or merging.
func (c *Coordinator) requestName(ctx context.Context, user types.UserID) {
	sess := c.sessions.Acquire(user)
	defer c.sessions.Release(sess)

	if !sess.RequestName() {
		return
	}
	logger := c.logger.WithUser(user)
	logger.Info("awaiting output name", map[string]any{"pending": sess.PendingCount()})

	if _, err := c.transport.SendText(ctx, chatOf(user), PromptText, transport.WithMarkdown()); err != nil {
		logger.Warn("name prompt not sent", map[string]any{"error": err.Error()})
	}
}

// refreshStatus edits the "files received" message in place, sending it
// the first time.
func (c *Coordinator) refreshStatus(ctx context.Context, sess *session.Session, count int) {
	logger := c.logger.WithUser(sess.UserID())
	text := statusText(count, c.scheduler.Window())

	if h := sess.StatusHandle(); !h.IsZero() {
		transport.BestEffort(logger, "edit status", c.transport.EditText(ctx, h, text, transport.WithMarkdown()))
		return
	}
	h, err := c.transport.SendText(ctx, chatOf(sess.UserID()), text, transport.WithMarkdown())
	if transport.BestEffort(logger, "send status", err) {
		sess.SetStatusHandle(h)
	}
}

// Sweep evicts idle sessions that have no armed timer.
func (c *Coordinator) Sweep(ttl time.Duration) []types.UserID {
	evicted := c.sessions.Sweep(ttl, c.scheduler.Pending)
	if len(evicted) > 0 {
		c.logger.Debug("sessions evicted", map[string]any{"count": len(evicted)})
	}
	return evicted
}

// Wait blocks until every started job has finished.
func (c *Coordinator) Wait() {
	c.jobs.Wait()
}

// Shutdown cancels pending timers and waits for running jobs.
func (c *Coordinator) Shutdown() {
	c.scheduler.Stop()
	c.jobs.Wait()
}

// chatOf maps a user to their private chat. Telegram private chats share
// the user's id.
func chatOf(user types.UserID) int64 {
	return user
}
