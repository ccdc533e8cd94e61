// Package progress carries job progress events from workers to sinks.
//
// Workers emit events on a Hub without blocking; the Hub batches them and
// hands each batch to every registered Sink (job store, log, Prometheus).
package progress
