package metrics

import "time"

// EngineMetrics bundles the named instruments the authorization engine emits around decisions,
// pagination, and latch activity.
type EngineMetrics struct {
	decisions       Counter
	decisionLatency Histogram
	pageFetch       Counter
	pageLatency     Histogram
	latchTrips      Counter
}

// NewEngineMetrics registers the engine's metric set against provider.
func NewEngineMetrics(provider Provider) *EngineMetrics {
	return &EngineMetrics{
		decisions: provider.Counter(
			"decisions_total", "Total Authorize calls by outcome", "effect", "authorized",
		),
		decisionLatency: provider.Histogram(
			"decision_seconds", "Authorize latency", DecisionLatencyBuckets(), "authorized",
		),
		pageFetch: provider.Counter(
			"grant_pages_total", "Total grant pages fetched", "storage",
		),
		pageLatency: provider.Histogram(
			"page_fetch_seconds", "Grant page fetch latency", DecisionLatencyBuckets(), "storage",
		),
		latchTrips: provider.Counter(
			"latch_trips_total", "Total times a found-latch was set", "locality",
		),
	}
}

func (m *EngineMetrics) RecordDecision(effect string, authorized bool, d time.Duration) {
	m.decisions.Inc(Fields{"effect": effect, "authorized": authorized})
	m.decisionLatency.Observe(Elapsed(d), Fields{"authorized": authorized})
}

func (m *EngineMetrics) RecordPageFetch(storageName string, d time.Duration) {
	m.pageFetch.Inc(Fields{"storage": storageName})
	m.pageLatency.Observe(Elapsed(d), Fields{"storage": storageName})
}

func (m *EngineMetrics) RecordLatchTrip(locality string) {
	m.latchTrips.Inc(Fields{"locality": locality})
}
