// Package metrics holds the Prometheus collectors for the mailer endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CaptchaIssued        *prometheus.CounterVec
	CaptchaVerifications *prometheus.CounterVec
	Submissions          *prometheus.CounterVec
	Deliveries           *prometheus.CounterVec
	AttachmentBytes      prometheus.Histogram
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CaptchaIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailer_captcha_issued_total",
				Help: "Captcha challenges served, by kind (image or audio)",
			},
			[]string{"kind"},
		),
		CaptchaVerifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailer_captcha_verifications_total",
				Help: "Captcha verification attempts, by result",
			},
			[]string{"result"},
		),
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailer_submissions_total",
				Help: "Processed form submissions, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailer_deliveries_total",
				Help: "Outbound messages handed to the delivery transport, by result",
			},
			[]string{"result"},
		),
		AttachmentBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailer_attachment_bytes",
				Help:    "Declared size of received attachments",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
	}
}

func (m *Metrics) ObserveCaptchaIssued(kind string) {
	if m == nil {
		return
	}
	m.CaptchaIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCaptchaVerification(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.CaptchaVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSubmission(action, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAttachment(size int64) {
	if m == nil {
		return
	}
	m.AttachmentBytes.Observe(float64(size))
}
