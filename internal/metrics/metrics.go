// metrics — prometheus-метрики клиентской сессии.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "estate_session"

// Metrics содержит коллекторы сессии. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	// RefreshTotal — обновления пары токенов по результату
	// (ok, no_refresh_token, rejected, transport, session_changed, storage).
	RefreshTotal *prometheus.CounterVec
	// RefreshDuration — длительность обмена refresh-токена с backend.
	RefreshDuration prometheus.Histogram
	// AdminCheckTotal — admin-check запросы по результату (admin, not_admin, error).
	AdminCheckTotal *prometheus.CounterVec
	// GateDecisionsTotal — решения route gate по итоговому состоянию.
	GateDecisionsTotal *prometheus.CounterVec
	// SchedulerPassesTotal — проходы планировщика по исходу (skipped, refreshed, failed, stopped).
	SchedulerPassesTotal *prometheus.CounterVec
	// Authenticated — 1, если в процессе есть аутентифицированная сессия.
	// Значение вычисляется при каждом сборе, см. ObserveAuthenticated.
	Authenticated prometheus.GaugeFunc

	factory promauto.Factory
}

// New создаёт и регистрирует коллекторы в reg. При reg == nil коллекторы не регистрируются.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		factory: f,
		RefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "The total number of token refresh attempts by result",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_refresh_duration_seconds",
			Help:      "The refresh exchange duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		AdminCheckTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_check_total",
			Help:      "The total number of admin checks by result",
		}, []string{"result"}),
		GateDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "The total number of route gate decisions by state",
		}, []string{"state"}),
		SchedulerPassesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_total",
			Help:      "The total number of scheduler passes by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Refresh(result string, seconds float64) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
	if seconds >= 0 {
		m.RefreshDuration.Observe(seconds)
	}
}

func (m *Metrics) AdminCheck(result string) {
	if m == nil {
		return
	}
	m.AdminCheckTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) GateDecision(state string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) SchedulerPass(outcome string) {
	if m == nil {
		return
	}
	m.SchedulerPassesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuthenticated регистрирует gauge authenticated, который при каждом
// сборе спрашивает fn. Так истечение токена видно без явных обновлений.
// Повторный вызов с тем же registerer паникует, как и повторный New.
func (m *Metrics) ObserveAuthenticated(fn func() bool) {
	if m == nil {
		return
	}
	m.Authenticated = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "authenticated",
		Help:      "1 if the process holds an authenticated session",
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	})
}
