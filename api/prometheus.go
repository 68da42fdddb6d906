package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskboard",
		Name:      "moves_total",
		Help:      "Task move requests by outcome.",
	}, []string{"outcome"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskboard",
		Name:      "task_mutations_total",
		Help:      "Task create, update and delete requests by operation and outcome.",
	}, []string{"operation", "outcome"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskboard",
		Name:      "publish_failures_total",
		Help:      "Events the API could not hand to the broadcast channel.",
	})
)

func outcomeFor(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "duplicate"
	case status >= http.StatusInternalServerError:
		return "error"
	case status >= http.StatusBadRequest:
		return "invalid"
	}
	return "ok"
}
