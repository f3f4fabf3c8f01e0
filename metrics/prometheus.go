package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coalesce"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

func newDesc(name, help string, value func(Snapshot) int64) counterDesc {
	return counterDesc{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name),
			help,
			nil,
			nil,
		),
		value: value,
	}
}

var counterDescs = []counterDesc{
	newDesc("artifacts_received_total", "Uploads stored.", func(s Snapshot) int64 { return s.ArtifactsReceived }),
	newDesc("artifacts_rejected_total", "Uploads refused for their type.", func(s Snapshot) int64 { return s.ArtifactsRejected }),
	newDesc("unauthorized_events_total", "Events from users other than the owner.", func(s Snapshot) int64 { return s.UnauthorizedEvent }),
	newDesc("jobs_started_total", "Merge jobs started.", func(s Snapshot) int64 { return s.JobsStarted }),
	newDesc("jobs_completed_total", "Merge jobs delivered.", func(s Snapshot) int64 { return s.JobsCompleted }),
	newDesc("jobs_failed_total", "Merge jobs aborted.", func(s Snapshot) int64 { return s.JobsFailed }),
	newDesc("lines_kept_total", "Unique lines delivered.", func(s Snapshot) int64 { return s.LinesKept }),
	newDesc("bytes_processed_total", "Input bytes read by the merger.", func(s Snapshot) int64 { return s.BytesProcessed }),
	newDesc("progress_updates_sent_total", "Progress edits delivered.", func(s Snapshot) int64 { return s.ProgressSent }),
	newDesc("progress_updates_dropped_total", "Progress edits that failed.", func(s Snapshot) int64 { return s.ProgressDropped }),
	newDesc("publish_failures_total", "Completion notifications not delivered.", func(s Snapshot) int64 { return s.PublishFailures }),
}

var infoDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "info"),
	"Static service dimensions.",
	[]string{"storage_backend", "adapter"},
	nil,
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range counterDescs {
		ch <- d.desc
	}
	ch <- infoDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	for _, d := range counterDescs {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(s)))
	}
	ch <- prometheus.MustNewConstMetric(infoDesc, prometheus.GaugeValue, 1, s.StorageBackend, s.Adapter)
}

// Handler returns a /metrics handler serving c from a private registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Serve exposes c on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, c *Collector) error {
	h, err := Handler(c)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
