package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// FFprobe reads the technical facts of a downloaded file.
type FFprobe struct{ Path string }

type ProbeResult struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	Bitrate    string `json:"bit_rate"`
}

type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Channels  int    `json:"channels"`
}

func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{Path: path}
}

func (f *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.Path, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// DurationSeconds rounds to the nearest second.
func (r *ProbeResult) DurationSeconds() int {
	duration, _ := strconv.ParseFloat(r.Format.Duration, 64)
	return int(duration + 0.5)
}

func (r *ProbeResult) FileSize() int64 {
	size, _ := strconv.ParseInt(r.Format.Size, 10, 64)
	return size
}

func (r *ProbeResult) stream(codecType string) *StreamInfo {
	for i := range r.Streams {
		if r.Streams[i].CodecType == codecType {
			return &r.Streams[i]
		}
	}
	return nil
}

func (r *ProbeResult) VideoCodec() string {
	if s := r.stream("video"); s != nil {
		return s.CodecName
	}
	return ""
}

func (r *ProbeResult) AudioCodec() string {
	if s := r.stream("audio"); s != nil {
		return s.CodecName
	}
	return ""
}

func (r *ProbeResult) Dimensions() (width, height int) {
	if s := r.stream("video"); s != nil {
		return s.Width, s.Height
	}
	return 0, 0
}

// Resolution classifies by either side so letterboxed 1920x800 is still 1080p.
func (r *ProbeResult) Resolution() string {
	w, h := r.Dimensions()
	switch {
	case w == 0 && h == 0:
		return ""
	case h >= 2160 || w >= 3840:
		return "4K"
	case h >= 900 || w >= 1800:
		return "1080p"
	case h >= 600 || w >= 1200:
		return "720p"
	case h >= 400:
		return "480p"
	}
	return "SD"
}
