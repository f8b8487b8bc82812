// Package metrics exposes Prometheus counters for the console sync core.
package metrics
