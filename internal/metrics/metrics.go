// Package metrics содержит метрики Prometheus программы лояльности.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обмена баллов.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// LoyaltyMetrics собирает счётчики обменов, начислений и фоновых задач.
// Нулевое значение и nil безопасны: вызовы ничего не делают.
type LoyaltyMetrics struct {
	redemptions    *prometheus.CounterVec
	pointsIssued   *prometheus.CounterVec
	pointsRedeemed prometheus.Counter
	jobDuration    *prometheus.HistogramVec
	jobFailures    *prometheus.CounterVec
}

// NewLoyaltyMetrics регистрирует метрики в reg. Без reg метрики отключены.
func NewLoyaltyMetrics(reg prometheus.Registerer) *LoyaltyMetrics {
	if reg == nil {
		return &LoyaltyMetrics{}
	}

	m := &LoyaltyMetrics{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_redemptions_total",
			Help: "Reward redemption attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		pointsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_points_issued_total",
			Help: "Points credited to members by transaction type.",
		}, []string{"type"}),
		pointsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_points_redeemed_total",
			Help: "Points debited by reward redemptions.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loyalty_job_duration_seconds",
			Help:    "Duration of background jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_job_failures_total",
			Help: "Failed background job runs.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.redemptions, m.pointsIssued, m.pointsRedeemed, m.jobDuration, m.jobFailures)
	return m
}

// ObserveRedemption учитывает попытку обмена. reason пуст для успешных обменов.
func (m *LoyaltyMetrics) ObserveRedemption(outcome, reason string, points int64) {
	if m == nil || m.redemptions == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome, normalizeLabel(reason)).Inc()
	if outcome == OutcomeCommitted && points > 0 {
		m.pointsRedeemed.Add(float64(points))
	}
}

// ObserveCredit учитывает начисление баллов.
func (m *LoyaltyMetrics) ObserveCredit(txType string, points int64) {
	if m == nil || m.pointsIssued == nil || points <= 0 {
		return
	}
	m.pointsIssued.WithLabelValues(normalizeLabel(txType)).Add(float64(points))
}

// ObserveJob учитывает прогон фоновой задачи.
func (m *LoyaltyMetrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
	if err != nil {
		m.jobFailures.WithLabelValues(normalizeLabel(job)).Inc()
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
