package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	pollsCreatedTotal   prometheus.Counter
	pollsCompletedTotal *prometheus.CounterVec
	voteOutcomesTotal   *prometheus.CounterVec
	optionVotesTotal    *prometheus.CounterVec
	participantsGauge   *prometheus.GaugeVec
	wsEventsTotal       *prometheus.CounterVec
	registerOnce        sync.Once
)

// inboundEvents bounds the label set; anything else is counted as unknown.
var inboundEvents = map[string]bool{
	"join":         true,
	"poll:create":  true,
	"vote:submit":  true,
	"student:kick": true,
	"chat:message": true,
}

// Register initializes Prometheus metrics on the default registry.
func Register() {
	registerOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed by the polling API.",
		}, []string{"method", "path", "status"})

		pollsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "polls_created_total",
			Help:      "Polls created and started.",
		})

		pollsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "polls_completed_total",
			Help:      "Polls completed, by reason (timer, lazy, preempt).",
		}, []string{"reason"})

		voteOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "votes_total",
			Help:      "Vote submissions by admission outcome.",
		}, []string{"outcome"})

		optionVotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "option_votes_total",
			Help:      "Accepted votes per poll option.",
		}, []string{"poll_id", "option_id"})

		participantsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "polling",
			Name:      "participants",
			Help:      "Connected participants by role.",
		}, []string{"role"})

		wsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polling",
			Name:      "ws_events_total",
			Help:      "Inbound websocket events by name.",
		}, []string{"event"})
	})
}

// IncRequest increments the http_requests_total counter with the given labels.
func IncRequest(method, path string, status int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Recorder adapts the package counters to the interfaces the services take.
// It is a no-op until Register is called.
type Recorder struct{}

func (Recorder) PollCreated() {
	if pollsCreatedTotal != nil {
		pollsCreatedTotal.Inc()
	}
}

func (Recorder) PollCompleted(reason string) {
	if pollsCompletedTotal != nil {
		pollsCompletedTotal.WithLabelValues(reason).Inc()
	}
}

func (Recorder) VoteOutcome(outcome string) {
	if voteOutcomesTotal != nil {
		voteOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

func (Recorder) OptionVote(pollID, optionID string) {
	if optionVotesTotal != nil {
		optionVotesTotal.WithLabelValues(pollID, optionID).Inc()
	}
}

func (Recorder) SetParticipants(role string, n int) {
	if participantsGauge != nil {
		participantsGauge.WithLabelValues(role).Set(float64(n))
	}
}

func (Recorder) InboundEvent(event string) {
	if wsEventsTotal == nil {
		return
	}
	if !inboundEvents[event] {
		event = "unknown"
	}
	wsEventsTotal.WithLabelValues(event).Inc()
}
