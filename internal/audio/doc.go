// Package audio implements the WAV container used for recorded transmissions.
// It provides a streaming writer that appends raw PCM and patches the RIFF header
// on close, plus helpers to encode, decode and inspect WAV data.
package audio
