// Package server implements the HTTP front end: a browsable index of
// recordings, raw file downloads, active session monitoring and
// Prometheus metrics.
package server
