package proxy

import (
	"path"
	"strings"
)

// Class determines how an upstream response is handled and which timeout
// bounds the call. It is derived purely from the request path, before the
// upstream call is issued — never from upstream response headers.
type Class int

const (
	// ClassBuffered responses are read fully, JSON-normalized, and re-emitted.
	// Short timeout: metadata/control endpoints must fail fast.
	ClassBuffered Class = iota
	// ClassStreamed responses are piped to the client incrementally.
	// Long timeout: media endpoints are expected to be slow.
	ClassStreamed
	// ClassSummary is JSON handled like ClassBuffered but with the long
	// timeout reserved for heavy aggregation queries.
	ClassSummary
)

// streamExts are file extensions of segment manifests, clip containers, and
// snapshot images served by a Frigate-compatible upstream.
var streamExts = map[string]struct{}{
	".m3u8": {},
	".ts":   {},
	".mp4":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

// streamSegments are path components of recording/clip/feed endpoints whose
// bodies are opaque byte streams.
var streamSegments = map[string]struct{}{
	"recordings": {},
	"clip":       {},
	"clips":      {},
	"snapshot":   {},
	"feed":       {},
	"stream":     {},
}

// Classify maps an upstream-relative path to its handling class.
func Classify(upstreamPath string) Class {
	p := strings.ToLower(strings.Trim(upstreamPath, "/"))

	// recordings/summary is an aggregation query: JSON, but slow.
	if strings.HasSuffix(p, "recordings/summary") {
		return ClassSummary
	}

	if _, ok := streamExts[path.Ext(p)]; ok {
		return ClassStreamed
	}
	for _, seg := range strings.Split(p, "/") {
		if _, ok := streamSegments[seg]; ok {
			return ClassStreamed
		}
	}
	return ClassBuffered
}

// Streamed reports whether the class pipes the body instead of buffering it.
func (c Class) Streamed() bool { return c == ClassStreamed }

// Slow reports whether the class gets the long upstream timeout.
func (c Class) Slow() bool { return c != ClassBuffered }

func (c Class) String() string {
	switch c {
	case ClassStreamed:
		return "streamed"
	case ClassSummary:
		return "summary"
	default:
		return "buffered"
	}
}
