package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for scheduling flows. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	availabilityLatency *prometheus.HistogramVec
	availabilitySlots   prometheus.Histogram
	appointmentOps      *prometheus.CounterVec
	sideEffectFailures  *prometheus.CounterVec
	emailJobs           *prometheus.CounterVec
	webhookDeliveries   *prometheus.CounterVec
	listingCache        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "compute_seconds",
			Help:      "Latency of available slot computation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		availabilitySlots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of slots returned per computation",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 250},
		}),
		appointmentOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Appointment lifecycle operations",
		}, []string{"op", "result"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed after a booking change",
		}, []string{"effect"}),
		emailJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "email_jobs_total",
			Help:      "Email job outcomes",
		}, []string{"status"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts",
		}, []string{"status"}),
		listingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "listing_lookups_total",
			Help:      "Appointment listing cache lookups",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.availabilityLatency,
		m.availabilitySlots,
		m.appointmentOps,
		m.sideEffectFailures,
		m.emailJobs,
		m.webhookDeliveries,
		m.listingCache,
	)
	return m
}

func (m *Metrics) ObserveAvailability(result string, seconds float64, slots int) {
	if m == nil {
		return
	}
	m.availabilityLatency.WithLabelValues(result).Observe(seconds)
	if result == "ok" {
		m.availabilitySlots.Observe(float64(slots))
	}
}

func (m *Metrics) ObserveAppointmentOp(op, result string) {
	if m == nil {
		return
	}
	m.appointmentOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveSideEffectFailure(effect string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(effect).Inc()
}

// ObserveEmailJob records a job outcome: sent, retried or failed.
func (m *Metrics) ObserveEmailJob(status string) {
	if m == nil {
		return
	}
	m.emailJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveWebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(status).Inc()
}

// ObserveListingCache records hit, miss or error.
func (m *Metrics) ObserveListingCache(result string) {
	if m == nil {
		return
	}
	m.listingCache.WithLabelValues(result).Inc()
}
