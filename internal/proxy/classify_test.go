package proxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nvrgate/internal/proxy"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want proxy.Class
	}{
		// Segment manifests, clip containers, snapshot images.
		{"api/camera1/start/1/end/2/clip.mp4", proxy.ClassStreamed},
		{"vod/event/index.m3u8", proxy.ClassStreamed},
		{"vod/event/segment0001.ts", proxy.ClassStreamed},
		{"api/events/123/snapshot.jpg", proxy.ClassStreamed},
		{"api/camera1/latest.jpg", proxy.ClassStreamed},
		{"thumb.jpeg", proxy.ClassStreamed},
		{"thumb.png", proxy.ClassStreamed},
		{"thumb.webp", proxy.ClassStreamed},

		// Recording/clip/feed path components without an extension.
		{"api/camera1/recordings", proxy.ClassStreamed},
		{"api/events/123/clip", proxy.ClassStreamed},
		{"api/camera1/feed", proxy.ClassStreamed},
		{"live/stream", proxy.ClassStreamed},

		// Heavy aggregation query: JSON, but on the long timeout.
		{"api/camera1/recordings/summary", proxy.ClassSummary},
		{"/api/camera1/recordings/summary/", proxy.ClassSummary},

		// Plain JSON control/metadata endpoints.
		{"api/version", proxy.ClassBuffered},
		{"api/events", proxy.ClassBuffered},
		{"api/config", proxy.ClassBuffered},
		{"", proxy.ClassBuffered},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, proxy.Classify(tt.path))
		})
	}
}

func TestClassProperties(t *testing.T) {
	assert.True(t, proxy.ClassStreamed.Streamed())
	assert.False(t, proxy.ClassSummary.Streamed(), "summary is JSON, not a byte stream")

	assert.True(t, proxy.ClassStreamed.Slow())
	assert.True(t, proxy.ClassSummary.Slow(), "summary gets the long timeout")
	assert.False(t, proxy.ClassBuffered.Slow())
}
