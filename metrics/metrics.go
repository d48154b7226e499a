// Package metrics exports workflow execution metrics to Prometheus.
package metrics

import (
	"context"

	"github.com/deepnoodle-ai/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ flow.ExecutionCallbacks = (*Collector)(nil)

// Namespace prefixes every metric name
const Namespace = "flow"

// Collector records engine activity as Prometheus metrics. Register it as
// the engine's ExecutionCallbacks, or add it to a flow.CallbackChain.
//
// Metrics:
//   - flow_passes_total{workflow, resumed, status}
//   - flow_pass_duration_seconds{workflow}
//   - flow_activities_total{activity_type, outcome}
//   - flow_activity_duration_seconds{activity_type}
//   - flow_bookmarks_created_total{activity_type}
//   - flow_bookmarks_resumed_total{activity_type}
//   - flow_suspended_bookmarks{workflow}, the bookmark count left by the latest pass
type Collector struct {
	flow.BaseExecutionCallbacks
	passes           *prometheus.CounterVec
	passDuration     *prometheus.HistogramVec
	activities       *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	bookmarksCreated *prometheus.CounterVec
	bookmarksResumed *prometheus.CounterVec
	bookmarks        *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with registry. A nil
// registry uses the default Prometheus registerer.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Collector{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "passes_total",
			Help:      "Workflow passes run, by resulting status",
		}, []string{"workflow", "resumed", "status"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pass_duration_seconds",
			Help:      "Time to drain the scheduler for one pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),
		activities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "activities_total",
			Help:      "Activity behavior invocations, by outcome",
		}, []string{"activity_type", "outcome"}),
		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "activity_duration_seconds",
			Help:      "Time spent inside activity behaviors",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity_type"}),
		bookmarksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bookmarks_created_total",
			Help:      "Bookmarks registered by activities",
		}, []string{"activity_type"}),
		bookmarksResumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bookmarks_resumed_total",
			Help:      "Bookmarks consumed by external events",
		}, []string{"activity_type"}),
		bookmarks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "suspended_bookmarks",
			Help:      "Bookmarks outstanding after the most recent pass",
		}, []string{"workflow"}),
	}
}

func (c *Collector) AfterWorkflowPass(ctx context.Context, event *flow.WorkflowPassEvent) {
	resumed := "false"
	if event.Resumed {
		resumed = "true"
	}
	c.passes.WithLabelValues(event.WorkflowName, resumed, string(event.Status)).Inc()
	c.passDuration.WithLabelValues(event.WorkflowName).Observe(event.Duration.Seconds())
	c.bookmarks.WithLabelValues(event.WorkflowName).Set(float64(event.Bookmarks))
}

func (c *Collector) AfterActivityExecution(ctx context.Context, event *flow.ActivityExecutionEvent) {
	outcome := "ok"
	if event.Error != nil {
		outcome = "error"
	}
	c.activities.WithLabelValues(event.ActivityType, outcome).Inc()
	c.activityDuration.WithLabelValues(event.ActivityType).Observe(event.Duration.Seconds())
}

func (c *Collector) BookmarkCreated(ctx context.Context, event *flow.BookmarkEvent) {
	c.bookmarksCreated.WithLabelValues(event.ActivityType).Inc()
}

func (c *Collector) BookmarkResumed(ctx context.Context, event *flow.BookmarkEvent) {
	c.bookmarksResumed.WithLabelValues(event.ActivityType).Inc()
}
