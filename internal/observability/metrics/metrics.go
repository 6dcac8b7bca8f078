// Package metrics exposes the worker's Prometheus collectors.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can be constructed without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "diitku_worker"

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Operation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors registered for one worker.
type Metrics struct {
	routeDispatches  *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	networkFetches   *prometheus.CounterVec
	lifecycleEvents  *prometheus.CounterVec
	bucketsDeleted   prometheus.Counter
	notifications    *prometheus.CounterVec
	syncItems        *prometheus.CounterVec
	workerState      *prometheus.GaugeVec
	provisionedBytes prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		routeDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_dispatches_total",
			Help:      "Intercepted requests by the route that answered them.",
		}, []string{"route"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache-first lookups by result.",
		}, []string{"result"}),
		networkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_fetches_total",
			Help:      "Outbound network fetches by outcome.",
		}, []string{"outcome"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Dispatched worker events by kind and outcome.",
		}, []string{"event", "outcome"}),
		bucketsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_deleted_total",
			Help:      "Stale cache buckets removed during activation.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_displayed_total",
			Help:      "Notification display attempts by target and outcome.",
		}, []string{"target", "outcome"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Pending transactions processed by background sync.",
		}, []string{"outcome"}),
		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the worker's current lifecycle state, 0 otherwise.",
		}, []string{"version", "state"}),
		provisionedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisioned_bytes",
			Help:      "Body bytes stored by the last successful install.",
		}),
	}

	collectors := []prometheus.Collector{
		m.routeDispatches, m.cacheLookups, m.networkFetches, m.lifecycleEvents,
		m.bucketsDeleted, m.notifications, m.syncItems, m.workerState, m.provisionedBytes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRoute counts a request answered by route.
func (m *Metrics) RecordRoute(route string) {
	if m == nil {
		return
	}
	m.routeDispatches.WithLabelValues(route).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordNetworkFetch counts an outbound fetch.
func (m *Metrics) RecordNetworkFetch(err error) {
	if m == nil {
		return
	}
	m.networkFetches.WithLabelValues(outcome(err)).Inc()
}

// RecordEvent counts a dispatched lifecycle or functional event.
func (m *Metrics) RecordEvent(event string, err error) {
	if m == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(event, outcome(err)).Inc()
}

// RecordBucketDeleted counts a removed stale bucket.
func (m *Metrics) RecordBucketDeleted() {
	if m == nil {
		return
	}
	m.bucketsDeleted.Inc()
}

// RecordNotification counts a display attempt on target.
func (m *Metrics) RecordNotification(target string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(target, outcome(err)).Inc()
}

// RecordSyncItem counts one forwarded pending transaction.
func (m *Metrics) RecordSyncItem(err error) {
	if m == nil {
		return
	}
	m.syncItems.WithLabelValues(outcome(err)).Inc()
}

// SetState marks state as the current state of version.
func (m *Metrics) SetState(version, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.workerState.WithLabelValues(version, s).Set(v)
	}
}

// SetProvisionedBytes records the size of the installed manifest.
func (m *Metrics) SetProvisionedBytes(n int64) {
	if m == nil {
		return
	}
	m.provisionedBytes.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
