package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	planTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodplan_plan_transitions_total",
		Help: "Переходы статусов планов производства.",
	}, []string{"to"})

	batchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodplan_batches_created_total",
		Help: "Созданные замесы.",
	})

	allocationShortages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodplan_allocation_shortages_total",
		Help: "Ингредиенты, недобранные при автозаполнении замеса.",
	})
)
