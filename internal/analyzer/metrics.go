package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Package-level counters for the client's observable failure modes.
var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_requests_total",
		Help: "Requests written to the analyzer transport.",
	})
	requestTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_request_timeouts_total",
		Help: "Requests that hit their deadline before a response arrived.",
	})
	requestFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_request_failures_total",
		Help: "Requests that completed with a protocol-reported error.",
	})
	malformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_malformed_frames_total",
		Help: "Inbound frames dropped as unparseable.",
	})
	lateResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_late_responses_total",
		Help: "Responses discarded because their request was already abandoned.",
	})
	restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "langbridge_restarts_total",
		Help: "Automatic restart attempts after an unexpected analyzer exit.",
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestTimeouts,
		requestFailures,
		malformedFrames,
		lateResponses,
		restartsTotal,
	)
}
