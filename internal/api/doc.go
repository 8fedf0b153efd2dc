// Package api exposes the operational HTTP interface of the crawler: health
// probes, Prometheus metrics and read-only views of positions and the queue.
package api
