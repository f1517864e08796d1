package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	phoneauth "github.com/viznet/phoneauth"
)

type metricsSource interface {
	MetricsSnapshot() phoneauth.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   phoneauth.MetricID
	name string
	help string
}

type histogramDef struct {
	id   phoneauth.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{id: phoneauth.MetricCodeSent, name: "phoneauth_code_sent_total", help: "Verification codes issued."},
	{id: phoneauth.MetricCodeRateLimited, name: "phoneauth_code_rate_limited_total", help: "Code requests denied by the issuance budget."},
	{id: phoneauth.MetricCodeVerified, name: "phoneauth_code_verified_total", help: "Successful code verifications."},
	{id: phoneauth.MetricCodeInvalid, name: "phoneauth_code_invalid_total", help: "Rejected code verifications."},
	{id: phoneauth.MetricCodeLockedOut, name: "phoneauth_code_locked_out_total", help: "Verifications refused after the attempt budget was spent."},
	{id: phoneauth.MetricRefreshSuccess, name: "phoneauth_refresh_success_total", help: "Successful refresh rotations."},
	{id: phoneauth.MetricRefreshReplayed, name: "phoneauth_refresh_replayed_total", help: "Refresh calls answered from the grace cache."},
	{id: phoneauth.MetricRefreshContended, name: "phoneauth_refresh_contended_total", help: "Refresh calls refused while another rotation held the lock."},
	{id: phoneauth.MetricRefreshInvalid, name: "phoneauth_refresh_invalid_total", help: "Refresh calls with unusable tokens."},
	{id: phoneauth.MetricLoginSuccess, name: "phoneauth_login_success_total", help: "Successful password logins."},
	{id: phoneauth.MetricLoginFailure, name: "phoneauth_login_failure_total", help: "Failed password logins."},
	{id: phoneauth.MetricRegisterSuccess, name: "phoneauth_register_success_total", help: "Successful registrations."},
	{id: phoneauth.MetricRegisterRejected, name: "phoneauth_register_rejected_total", help: "Rejected registrations."},
	{id: phoneauth.MetricLogout, name: "phoneauth_logout_total", help: "Single-token logout operations."},
	{id: phoneauth.MetricLogoutAll, name: "phoneauth_logout_all_total", help: "Logout-all operations."},
	{id: phoneauth.MetricNotifierFailure, name: "phoneauth_notifier_failure_total", help: "Code deliveries the notifier failed to complete."},
}

var histogramDefs = []histogramDef{
	{id: phoneauth.MetricAuthenticateLatency, name: "phoneauth_authenticate_latency_seconds", help: "Latency of access token authentication."},
}

var histogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// PrometheusExporter renders phoneauth metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [phoneauth.Engine].
func NewPrometheusExporter(engine *phoneauth.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from a
// custom metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range counterDefs {
		writeCounter(&b, def.name, def.help, snapshot.Counters[def.id])
	}

	for _, def := range histogramDefs {
		writeHistogram(&b, def.name, def.help, cumulativeBuckets(snapshot.Histograms[def.id]))
	}

	writeCounter(&b, "phoneauth_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", dropped)

	return b.String()
}

func cumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range histogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Sum is not available in core snapshots; keep a stable field for compatibility.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
