// Package cli implements the recorder command line: "run" records the
// configured networks and "list" prints what has been recorded.
package cli
