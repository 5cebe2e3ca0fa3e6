package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// метрики движка

var (
	washesRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_washes_recorded_total",
			Help: "Кол-во записанных моек",
		},
	)

	rewardsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_rewards_issued_total",
			Help: "Кол-во выданных наград",
		},
	)

	rewardsRedeemedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_rewards_redeemed_total",
			Help: "Кол-во погашенных наград",
		},
	)

	rewardsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_rewards_expired_total",
			Help: "Кол-во наград, переведенных в expired",
		},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_rejections_total",
			Help: "Отказы движка по причинам",
		},
		[]string{"reason"},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_notifications_dropped_total",
			Help: "Уведомления, не поставленные в очередь отправки",
		},
	)
)
