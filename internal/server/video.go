package server

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"nvrgate/internal/proxy"
	"nvrgate/internal/transcode"
)

// handleVideoProbe reports the codec of the media at ?url=. Gateway-relative
// /proxy/ URLs are resolved through the engine so the host routing rules
// (not-found, disabled) apply before any process is spawned.
func (s *Server) handleVideoProbe(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.URL.Query().Get("url")
	if mediaURL == "" {
		jsonErr(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	resolved, gerr := s.engine.ResolveURL(mediaURL)
	if gerr != nil {
		proxy.WriteError(w, gerr)
		return
	}

	codec, err := s.pipeline.Probe(r.Context(), resolved)
	if err != nil {
		slog.Error("video probe failed", "url", mediaURL, "error", err)
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonOK(w, map[string]any{
		"codec":      codec,
		"compatible": transcode.Compatible(codec),
	})
}

// handleVideoTranscode runs the full probe-then-optionally-encode workflow
// for ?url=. A compatible source is returned as-is; an incompatible one is
// re-encoded and answered with the retrieval URL of the output file.
//
// Repeated requests for the same source re-encode from scratch — there is no
// per-source cache or in-flight coalescing.
func (s *Server) handleVideoTranscode(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.URL.Query().Get("url")
	if mediaURL == "" {
		jsonErr(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	resolved, gerr := s.engine.ResolveURL(mediaURL)
	if gerr != nil {
		proxy.WriteError(w, gerr)
		return
	}

	job, err := s.pipeline.Prepare(r.Context(), resolved)
	if err != nil {
		slog.Error("video transcode failed",
			"url", mediaURL,
			"state", job.State.String(),
			"error", err,
		)
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := map[string]string{"codec": job.Codec}
	switch job.State {
	case transcode.StateCompatible:
		out["url"] = mediaURL
	case transcode.StateReady:
		out["url"] = "/apiv1/video/transcoded/" + job.OutputName
	}
	jsonOK(w, out)
}

// handleVideoRetrieve serves a finished transcode output. The filename is
// validated before any filesystem access; anything resembling a path
// traversal is rejected outright.
func (s *Server) handleVideoRetrieve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")

	path, err := s.pipeline.OutputPath(name)
	if err != nil {
		if errors.Is(err, transcode.ErrUnsafeName) {
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := os.Stat(path); err != nil {
		jsonErr(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}
