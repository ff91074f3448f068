// Package catalog lists recordings grouped by network and talkgroup for
// the HTTP front end.
package catalog
