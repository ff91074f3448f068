// Package storage maps transmissions onto the recordings directory tree.
// Layout is baseDir/<network>/<talkgroup>/transmission_<source>_<millis>.wav;
// directories are created on demand and file names never collide.
package storage
