package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes recorded by the session reconciler.
const (
	OutcomeAuthenticated      = "authenticated"
	OutcomeNoSession          = "no_session"
	OutcomeVerificationFailed = "verification_failed"
	OutcomeProvisioningFailed = "provisioning_failed"
	OutcomeRemoteUnavailable  = "remote_unavailable"
	OutcomeSuperseded         = "superseded"
)

// Metrics holds the prometheus collectors for the service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reconciliations     *prometheus.CounterVec
	reconcileDuration   prometheus.Histogram
	profilesProvisioned prometheus.Counter
	stalePublications   prometheus.Counter
	signIns             *prometheus.CounterVec
	adminMutations      *prometheus.CounterVec
	mirrorFailures      prometheus.Counter
	requestCount        *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	errorCount          *prometheus.CounterVec
}

// NewMetrics registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authsync_reconciliations_total",
			Help: "Session reconciliations by outcome.",
		}, []string{"outcome"}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authsync_reconcile_duration_seconds",
			Help:    "Time spent reconciling a session.",
			Buckets: prometheus.DefBuckets,
		}),
		profilesProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "authsync_profiles_provisioned_total",
			Help: "Profiles created during reconciliation.",
		}),
		stalePublications: factory.NewCounter(prometheus.CounterOpts{
			Name: "authsync_stale_publications_total",
			Help: "Auth state publications discarded because a newer attempt superseded them.",
		}),
		signIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authsync_sign_ins_total",
			Help: "Sign-in attempts by result code.",
		}, []string{"result"}),
		adminMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authsync_admin_mutations_total",
			Help: "Admin grant mutations by operation and result.",
		}, []string{"operation", "result"}),
		mirrorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "authsync_role_mirror_failures_total",
			Help: "Failed best-effort writes of the role metadata mirror.",
		}),
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authsync_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authsync_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authsync_http_errors_total",
			Help: "HTTP errors by path, method and error code.",
		}, []string{"path", "method", "code"}),
	}
}

// RecordReconcile counts a finished reconciliation.
func (m *Metrics) RecordReconcile(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordProfileProvisioned counts an auto-provisioned profile.
func (m *Metrics) RecordProfileProvisioned() {
	if m == nil {
		return
	}
	m.profilesProvisioned.Inc()
}

// RecordStalePublication counts a discarded publication.
func (m *Metrics) RecordStalePublication() {
	if m == nil {
		return
	}
	m.stalePublications.Inc()
}

// RecordSignIn counts a sign-in by result.
func (m *Metrics) RecordSignIn(result string) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(result).Inc()
}

// RecordAdminMutation counts a grant, revoke or privilege update.
func (m *Metrics) RecordAdminMutation(operation, result string) {
	if m == nil {
		return
	}
	m.adminMutations.WithLabelValues(operation, result).Inc()
}

// RecordMirrorFailure counts a failed role metadata write.
func (m *Metrics) RecordMirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}
