// Package sinks implements progress consumers: structured logging, Prometheus
// metrics, the run journal and Pub/Sub completion notices.
package sinks
