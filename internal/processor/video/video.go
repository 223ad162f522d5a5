package video

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/processor"
)

var (
	ErrTranscodeFailed = errors.New("video: transcoding failed")
	ErrFFmpegNotFound  = errors.New("video: ffmpeg not found in PATH")
	ErrFFprobeNotFound = errors.New("video: ffprobe not found in PATH")
	ErrInvalidVideo    = errors.New("video: invalid or corrupted video file")
	ErrSegmentMissing  = errors.New("video: expected segment was not produced")
)

// VideoMetadata contains the probed properties the batch depends on.
type VideoMetadata struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec"`
	HasAudio   bool    `json:"has_audio"`
}

type VideoConfig struct {
	*processor.Config

	FFmpegPath  string
	FFprobePath string

	Preset       string
	CRF          int
	PixelFormat  string
	Profile      string
	Level        string
	AudioBitrate string
}

func DefaultVideoConfig() *VideoConfig {
	return &VideoConfig{
		Config:       processor.DefaultConfig(),
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		Preset:       "medium",
		CRF:          23,
		PixelFormat:  "yuv420p",
		Profile:      "main",
		Level:        "4.0",
		AudioBitrate: "192k",
	}
}

// SegmentCount returns how many output files a video of the given duration
// produces: one when it does not exceed split, otherwise ceil(duration/split).
func SegmentCount(duration, split float64) int {
	if split <= 0 || duration <= split {
		return 1
	}
	return int(math.Ceil(duration / split))
}

// segmentTail is how far past a split boundary a video may end and still
// produce no further part: the segmenter only opens a part on a video frame
// at or after the boundary.
const segmentTail = 0.5

// RequiredSegments returns how many of the planned parts must exist for a
// video to count as compressed. It is one less than SegmentCount when the
// video ends within segmentTail of the last boundary.
func RequiredSegments(duration, split float64) int {
	n := SegmentCount(duration, split)
	if n > 1 && duration-float64(n-1)*split < segmentTail {
		return n - 1
	}
	return n
}

// PlanOutputs returns the output paths for input in outputDir.
func PlanOutputs(input, outputDir string, duration, split float64) []string {
	base := baseName(input)
	n := SegmentCount(duration, split)
	if n == 1 {
		return []string{filepath.Join(outputDir, base+".mp4")}
	}

	outputs := make([]string, n)
	for i := range outputs {
		outputs[i] = filepath.Join(outputDir, segmentName(base, i+1))
	}
	return outputs
}

func baseName(input string) string {
	name := filepath.Base(input)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func segmentName(base string, index int) string {
	return fmt.Sprintf("%s_part%03d.mp4", base, index)
}

func segmentPattern(base string) string {
	return base + "_part%03d.mp4"
}
