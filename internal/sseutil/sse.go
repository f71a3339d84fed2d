// Package sseutil provides shared SSE (Server-Sent Events) line handling
// for the completion-stream consumer.
package sseutil

import (
	"bytes"
)

var (
	doneMarker = []byte("[DONE]")
	dataPrefix = []byte("data:")
	eventTag   = []byte("event:")
)

// JSONPayload extracts the JSON payload from an SSE line.
// Returns nil for blank lines, [DONE], event: lines, and anything that
// does not start a JSON object after the data tag is stripped.
func JSONPayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || bytes.Equal(trimmed, doneMarker) {
		return nil
	}
	if bytes.HasPrefix(trimmed, eventTag) {
		return nil
	}
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	return trimmed
}

// IsDoneLine reports whether the line is the stream-terminating [DONE]
// marker, bare or behind a data tag.
func IsDoneLine(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if bytes.Equal(trimmed, doneMarker) {
		return true
	}
	if bytes.HasPrefix(trimmed, dataPrefix) {
		return bytes.Equal(bytes.TrimSpace(trimmed[len(dataPrefix):]), doneMarker)
	}
	return false
}
