package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
)

// ErrInvalidStreamKey is returned by publish-hook validation when the stream
// key does not match the accepted pattern.
var ErrInvalidStreamKey = errors.New("invalid stream key")

// streamKeyPattern accepts 11-char alphanumeric keys with a tv/uv/vv tag or
// 7-char keys with an mb tag.
var streamKeyPattern = regexp.MustCompile(`^([0-9a-z]{11}(tv|uv|vv)|[0-9a-z]{7}mb)$`)

// ValidStreamKey reports whether key matches the accepted publish pattern.
func ValidStreamKey(key string) bool {
	return streamKeyPattern.MatchString(key)
}

// PublishRequest carries the parameters posted by the ingest layer's
// publish hooks (nginx-rtmp on_publish/on_publish_done form fields).
type PublishRequest struct {
	App      string
	Addr     string
	ClientID string
	Call     string
	TcURL    string
	Name     string
	Type     string
}

// Transcoder spawns the external process that converts an incoming live feed
// into multi-bitrate HLS. It is fire-and-forget: the process runs detached
// from the request and its exit status is only logged.
type Transcoder struct {
	outputPath string
	log        *slog.Logger
}

// NewTranscoder returns a transcoder writing HLS output under outputPath.
func NewTranscoder(outputPath string, log *slog.Logger) *Transcoder {
	return &Transcoder{outputPath: outputPath, log: log}
}

// Start launches the transcode for a validated publish request and returns
// immediately. Process failure is logged, never propagated.
func (t *Transcoder) Start(req PublishRequest) {
	input := req.TcURL + "/" + req.Name
	output := fmt.Sprintf("%s/%s", t.outputPath, req.Name)
	args := transcodeArgs(input, output)

	go func() {
		t.log.Info("starting transcode",
			slog.String("stream", req.Name),
			slog.String("input", input))
		cmd := exec.CommandContext(context.Background(), "ffmpeg", args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.log.Error("transcode process failed",
				slog.String("stream", req.Name),
				slog.String("error", err.Error()),
				slog.Int("output_bytes", len(out)))
			return
		}
		t.log.Info("transcode finished", slog.String("stream", req.Name))
	}()
}

// transcodeArgs builds the fixed three-rendition HLS argument template.
func transcodeArgs(input, output string) []string {
	args := []string{"-i", input}

	renditions := []struct {
		index   int
		size    string
		bitrate string
	}{
		{0, "1280x720", "2500k"},
		{1, "640x360", "800k"},
		{2, "854x480", "1400k"},
	}
	for _, r := range renditions {
		args = append(args,
			"-map", "0:v",
			fmt.Sprintf("-s:v:%d", r.index), r.size,
			fmt.Sprintf("-c:v:%d", r.index), "libx264",
			fmt.Sprintf("-b:v:%d", r.index), r.bitrate,
			"-preset", "veryfast",
			"-g", "48",
			"-sc_threshold", "0",
			"-keyint_min", "48",
		)
	}

	args = append(args,
		"-var_stream_map", "v:0,name:720p v:1,name:360p v:2,name:480p",
		"-master_pl_name", "master.m3u8",
		"-hls_segment_filename", output+"/%v/segment_%03d.ts",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_flags", "delete_segments+append_list+independent_segments",
		"-hls_list_size", "20",
		output+"/%v/playlist.m3u8",
	)
	return args
}
