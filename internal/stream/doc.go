// Package stream owns the lifecycle of in-flight transmissions.
// It demultiplexes audio packets into per-(network, source, destination)
// recording sessions, reaps sessions that have gone quiet, and finalizes
// every session of a network when that network's connection closes.
package stream
