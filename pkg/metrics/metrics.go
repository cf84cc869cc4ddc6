/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package metrics exposes the agent's own prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slowquery"

var (
	Registry = prometheus.NewRegistry()

	// Messages counts classified records by outcome
	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Slow operation records by classification outcome.",
	}, []string{"outcome"})

	Matched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matched_total",
		Help:      "Classified records by catalog operation.",
	}, []string{"operation"})

	ExecMillis = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "exec_millis",
		Help:      "Execution time of scanned slow operations in milliseconds.",
		Buckets:   []float64{100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})

	OutputErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "output_errors_total",
		Help:      "Failed report writes by output.",
	}, []string{"output"})

	Reports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Flushed scan reports.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Messages,
		Matched,
		ExecMillis,
		OutputErrors,
		Reports,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
