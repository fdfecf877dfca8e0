package converter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Transcoder converts audio between container formats.
type Transcoder interface {
	// TranscodeToM4B converts an mp3 file to an m4b audiobook next to it and
	// returns the output path. No-op when the target already exists.
	TranscodeToM4B(ctx context.Context, mp3Path string) (string, error)
}

// FFmpegTranscoder shells out to the ffmpeg binary.
type FFmpegTranscoder struct{}

// NewTranscoder creates the default ffmpeg-backed transcoder.
func NewTranscoder() *FFmpegTranscoder {
	return &FFmpegTranscoder{}
}

// TranscodeToM4B converts an mp3 file to an m4b audiobook.
// Parameters:
//   - ctx: context bounding the ffmpeg invocation.
//   - mp3Path: source mp3 file.
// Returns:
//   - string: path of the m4b file.
//   - error: non-nil if ffmpeg is missing or the conversion fails.
func (t *FFmpegTranscoder) TranscodeToM4B(ctx context.Context, mp3Path string) (string, error) {
	m4bPath := replaceExt(mp3Path, ".m4b")
	if _, err := os.Stat(m4bPath); err == nil {
		return m4bPath, nil
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", convErr("ffmpeg", "ffmpeg not found: install ffmpeg to create m4b files")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", mp3Path,
		"-vn",
		"-c:a", "aac",
		"-b:a", "128k",
		m4bPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", convErr("ffmpeg", "m4b conversion failed: %w\noutput: %s", err, string(output))
	}
	return m4bPath, nil
}

// wavToMP3 converts a wav file to mp3 via ffmpeg.
func wavToMP3(ctx context.Context, wavPath, mp3Path string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return convErr("ffmpeg", "ffmpeg not found: install ffmpeg for mp3 output")
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-qscale:a", "4",
		mp3Path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return convErr("ffmpeg", "mp3 conversion failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

// replaceExt swaps the file extension of path for ext.
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
