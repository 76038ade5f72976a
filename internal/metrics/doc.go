// Package metrics defines the Prometheus collectors of the service and small
// helpers used by the registry, the pipeline and the transport adapters.
package metrics
