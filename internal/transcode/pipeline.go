package transcode

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nvrgate/internal/config"
	"nvrgate/internal/metrics"
)

// Pipeline failures. Both are terminal; the pipeline never retries.
var (
	ErrProbeFailed  = errors.New("probe failed")
	ErrEncodeFailed = errors.New("encode failed")
	// ErrUnsafeName rejects retrieval of any filename that could escape the
	// output directory.
	ErrUnsafeName = errors.New("invalid file name")
)

// State is a job's position in the probe-then-optionally-encode workflow.
type State int

const (
	StateProbing State = iota
	StateCompatible
	StateEncoding
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateCompatible:
		return "compatible"
	case StateEncoding:
		return "encoding"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job tracks one source URL through the pipeline. The pipeline owns the
// output file; clients reference it only through a short-lived retrieval
// path and it does not survive a gateway restart.
type Job struct {
	Source     string
	Codec      string // set once the probe completes
	OutputName string // set once the encode completes
	State      State
}

// compatibleCodecs can be decoded directly by standard browser decoders;
// anything else goes through the encoder.
var compatibleCodecs = map[string]bool{
	"h264": true,
	"vp8":  true,
	"vp9":  true,
	"av1":  true,
}

// Compatible reports whether media with the given codec is natively playable.
func Compatible(codec string) bool { return compatibleCodecs[codec] }

// Pipeline owns codec probing, re-encoding, and the temporary output
// directory. Two concurrent jobs for the same source each run an independent
// encoder into an independent file; nothing coalesces or caches repeated
// requests for the same source.
type Pipeline struct {
	ffprobe       string
	ffmpeg        string
	dir           string
	probeTimeout  time.Duration
	encodeTimeout time.Duration
	maxAge        time.Duration
}

// New builds a Pipeline from the transcode configuration, creating the
// output directory if needed.
func New(cfg config.TranscodeCfg) (*Pipeline, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcode: creating output dir: %w", err)
	}
	return &Pipeline{
		ffprobe:       cfg.FFprobePath,
		ffmpeg:        cfg.FFmpegPath,
		dir:           cfg.Dir,
		probeTimeout:  cfg.ParsedProbeTimeout(),
		encodeTimeout: cfg.ParsedEncodeTimeout(),
		maxAge:        cfg.ParsedMaxAge(),
	}, nil
}

// probeOutput is the subset of ffprobe's JSON document the pipeline reads.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Probe runs the external prober against mediaURL and returns the first
// video stream's codec identifier. A non-zero exit or malformed output is a
// hard failure, not retried.
func (p *Pipeline) Probe(ctx context.Context, mediaURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	res, err := Run(ctx, p.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		mediaURL,
	)
	if err != nil {
		metrics.TranscodeJobs.WithLabelValues("probe", "failed").Inc()
		return "", fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if res.ExitCode != 0 {
		metrics.TranscodeJobs.WithLabelValues("probe", "failed").Inc()
		return "", fmt.Errorf("%w: exit code %d: %s", ErrProbeFailed, res.ExitCode, res.StderrTail())
	}

	var out probeOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		metrics.TranscodeJobs.WithLabelValues("probe", "failed").Inc()
		return "", fmt.Errorf("%w: malformed prober output: %v", ErrProbeFailed, err)
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			metrics.TranscodeJobs.WithLabelValues("probe", "ok").Inc()
			return s.CodecName, nil
		}
	}
	metrics.TranscodeJobs.WithLabelValues("probe", "failed").Inc()
	return "", fmt.Errorf("%w: no video stream in %q", ErrProbeFailed, mediaURL)
}

// Transcode re-encodes mediaURL to an h264/aac mp4 at a fixed quality preset
// and returns the output filename. Completion is signaled by the encoder's
// exit code; partial output from a failed run is removed.
func (p *Pipeline) Transcode(ctx context.Context, mediaURL string) (string, error) {
	p.sweep()

	name := newOutputName()
	outPath := filepath.Join(p.dir, name)

	ctx, cancel := context.WithTimeout(ctx, p.encodeTimeout)
	defer cancel()

	slog.Info("transcode: encoding", "source", mediaURL, "output", name)
	res, err := Run(ctx, p.ffmpeg,
		"-y",
		"-i", mediaURL,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	)
	if err != nil {
		_ = os.Remove(outPath)
		metrics.TranscodeJobs.WithLabelValues("encode", "failed").Inc()
		return "", fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if res.ExitCode != 0 {
		_ = os.Remove(outPath)
		metrics.TranscodeJobs.WithLabelValues("encode", "failed").Inc()
		return "", fmt.Errorf("%w: exit code %d: %s", ErrEncodeFailed, res.ExitCode, res.StderrTail())
	}

	metrics.TranscodeJobs.WithLabelValues("encode", "ok").Inc()
	return name, nil
}

// Prepare runs the full workflow for one source: probe, then encode only
// when the codec is not natively playable. The returned Job ends in state
// Compatible (play the source directly) or Ready (fetch the output file).
func (p *Pipeline) Prepare(ctx context.Context, mediaURL string) (*Job, error) {
	job := &Job{Source: mediaURL, State: StateProbing}

	codec, err := p.Probe(ctx, mediaURL)
	if err != nil {
		job.State = StateFailed
		return job, err
	}
	job.Codec = codec

	if Compatible(codec) {
		job.State = StateCompatible
		return job, nil
	}

	job.State = StateEncoding
	name, err := p.Transcode(ctx, mediaURL)
	if err != nil {
		job.State = StateFailed
		return job, err
	}
	job.OutputName = name
	job.State = StateReady
	return job, nil
}

// OutputPath validates a retrieval filename and maps it into the output
// directory. Any path-separator sequence is rejected before filesystem
// access.
func (p *Pipeline) OutputPath(name string) (string, error) {
	if name == "" ||
		strings.ContainsAny(name, `/\`) ||
		strings.Contains(name, "..") ||
		filepath.Base(name) != name {
		return "", ErrUnsafeName
	}
	return filepath.Join(p.dir, name), nil
}

// sweep evicts output files older than maxAge. There is no other
// garbage-collection for orphaned outputs, so each new job pays for the
// cleanup.
func (p *Pipeline) sweep() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-p.maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(p.dir, e.Name())); err == nil {
				slog.Debug("transcode: evicted stale output", "file", e.Name())
			}
		}
	}
}

// newOutputName builds a collision-avoided output filename from a timestamp
// plus a random suffix.
func newOutputName() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("transcode-%d-%s.mp4", time.Now().UnixNano(), hex.EncodeToString(b))
}
