package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "incidents_created_total",
			Help:      "Total incidents created",
		},
		[]string{"source"},
	)

	incidentsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "incidents_closed_total",
			Help:      "Total incidents closed",
		},
		[]string{"outcome"},
	)

	attemptsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "attempts_started_total",
			Help:      "Total call attempts started",
		},
		[]string{"channel"},
	)

	attemptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "attempt_outcomes_total",
			Help:      "Total terminal call attempt outcomes",
		},
		[]string{"outcome"},
	)

	escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "escalations_total",
			Help:      "Total ladder step advances",
		},
	)

	laddersExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "ladders_exhausted_total",
			Help:      "Total routing cycles that exhausted every ladder step",
		},
	)

	noEligible = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "no_eligible_technicians_total",
			Help:      "Total ladder resolutions with zero eligible technicians",
		},
	)

	timerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "timer_fires_total",
			Help:      "Escalation timer fires by result",
		},
		[]string{"result"},
	)

	staleResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "stale_responses_total",
			Help:      "Responses for attempts already terminally resolved",
		},
	)

	contactFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "contact_failures_total",
			Help:      "Outbound contact failures recovered by timeout escalation",
		},
		[]string{"channel"},
	)
)

func recordIncidentCreated(source string) { incidentsCreated.WithLabelValues(source).Inc() }
func recordIncidentClosed(outcome string) { incidentsClosed.WithLabelValues(outcome).Inc() }
func recordAttemptStarted(channel string) { attemptsStarted.WithLabelValues(channel).Inc() }
func recordAttemptOutcome(outcome string) { attemptOutcomes.WithLabelValues(outcome).Inc() }
func recordEscalation()                   { escalations.Inc() }
func recordLadderExhausted()              { laddersExhausted.Inc() }
func recordNoEligibleTechnicians()        { noEligible.Inc() }
func recordTimerFire(result string)       { timerFires.WithLabelValues(result).Inc() }
func recordStaleResponse()                { staleResponses.Inc() }
func recordContactFailure(channel string) { contactFailures.WithLabelValues(channel).Inc() }
