// Package prom holds shared Prometheus helpers and the metrics endpoint.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the optimizer.
const Namespace = "expoptimizer"

// Time starts a timer and returns a function that records the elapsed seconds into o.
//
//	defer prom.Time(histogram.WithLabelValues("probe"))()
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// ErrCount increments c if *err is non-nil when called; meant to be deferred.
func ErrCount(c prometheus.Counter, err *error) {
	if err != nil && *err != nil {
		c.Inc()
	}
}
