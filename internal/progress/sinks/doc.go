// Package sinks implements progress consumers: the job store, structured
// logs and Prometheus histograms.
package sinks
