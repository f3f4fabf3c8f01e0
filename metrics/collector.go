// Package metrics counts merge service activity.
//
// The Collector is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so callers can run without
// metrics. The same counters are exported to Prometheus via Register.
package metrics

import "sync"

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	// Intake
	ArtifactsReceived int64 `json:"artifacts_received"`
	ArtifactsRejected int64 `json:"artifacts_rejected"`
	UnauthorizedEvent int64 `json:"unauthorized_events"`

	// Jobs
	JobsStarted   int64 `json:"jobs_started"`
	JobsCompleted int64 `json:"jobs_completed"`
	JobsFailed    int64 `json:"jobs_failed"`

	// Volume
	LinesKept      int64 `json:"lines_kept"`
	BytesProcessed int64 `json:"bytes_processed"`

	// Side channels
	ProgressSent    int64 `json:"progress_sent"`
	ProgressDropped int64 `json:"progress_dropped"`
	PublishFailures int64 `json:"publish_failures"`

	// Dimensions
	StorageBackend string `json:"storage_backend"`
	Adapter        string `json:"adapter"`
}

// Collector accumulates counters for the life of the process.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, adapter string) *Collector {
	return &Collector{s: Snapshot{StorageBackend: storageBackend, Adapter: adapter}}
}

func (c *Collector) update(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// IncArtifactReceived records a stored upload.
func (c *Collector) IncArtifactReceived() {
	c.update(func(s *Snapshot) { s.ArtifactsReceived++ })
}

// IncArtifactRejected records an upload refused for its type.
func (c *Collector) IncArtifactRejected() {
	c.update(func(s *Snapshot) { s.ArtifactsRejected++ })
}

// IncUnauthorized records an event from someone other than the owner.
func (c *Collector) IncUnauthorized() {
	c.update(func(s *Snapshot) { s.UnauthorizedEvent++ })
}

// IncJobStarted records a merge job start.
func (c *Collector) IncJobStarted() {
	c.update(func(s *Snapshot) { s.JobsStarted++ })
}

// IncJobCompleted records a delivered merge.
func (c *Collector) IncJobCompleted(linesKept, bytesProcessed int64) {
	c.update(func(s *Snapshot) {
		s.JobsCompleted++
		s.LinesKept += linesKept
		s.BytesProcessed += bytesProcessed
	})
}

// IncJobFailed records an aborted merge.
func (c *Collector) IncJobFailed() {
	c.update(func(s *Snapshot) { s.JobsFailed++ })
}

// AddProgress records progress emissions for one job.
func (c *Collector) AddProgress(sent, dropped int) {
	c.update(func(s *Snapshot) {
		s.ProgressSent += int64(sent)
		s.ProgressDropped += int64(dropped)
	})
}

// IncPublishFailure records a completion notification that could not be
// delivered.
func (c *Collector) IncPublishFailure() {
	c.update(func(s *Snapshot) { s.PublishFailures++ })
}

// Snapshot returns a copy of the counters. A nil Collector yields the zero
// Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
