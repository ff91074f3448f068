// Package metrics defines the Prometheus collectors exported by the recorder.
package metrics
