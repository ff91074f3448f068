// Package recorder assembles the running service: one adapter and one
// dispatcher per configured network sharing a session registry, plus the
// optional HTTP front end over the recordings directory.
package recorder
