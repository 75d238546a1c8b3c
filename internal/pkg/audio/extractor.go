package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/pkg/errors"
)

// Extractor converts a video file to an audio-only track with ffmpeg.
// The transcription provider accepts audio input only
type Extractor struct {
	cmd    string
	tmpDir string
}

// NewExtractor creates Extractor instance
func NewExtractor(tmpDir string) (*Extractor, error) {
	if tmpDir == "" {
		return nil, errors.New("No tmp dir provided")
	}
	err := os.MkdirAll(tmpDir, os.ModePerm)
	if err != nil {
		return nil, errors.Wrap(err, "Can't init tmp dir")
	}
	cmd := cmdapp.Config.GetString("ffmpeg.cmd")
	if cmd == "" {
		cmd = "ffmpeg"
	}
	return &Extractor{cmd: cmd, tmpDir: tmpDir}, nil
}

// Extract writes a lossy mp3 track next to the other temp files and returns
// its path. The caller owns the file and must remove it
func (e *Extractor) Extract(ctx context.Context, videoFile string) (string, error) {
	out := filepath.Join(e.tmpDir, audioName(videoFile))
	cmdapp.Log.Infof("Extracting audio %s -> %s", videoFile, out)

	cmd := exec.CommandContext(ctx, e.cmd, "-y", "-i", videoFile,
		"-vn", "-acodec", "libmp3lame", "-q:a", "4", out)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(out)
		return "", errors.Wrapf(err, "Can't extract audio: %s", trimOutput(output))
	}
	return out, nil
}

func audioName(videoFile string) string {
	base := filepath.Base(videoFile)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".mp3"
}

func trimOutput(b []byte) string {
	s := string(b)
	if len(s) > 300 {
		s = s[len(s)-300:]
	}
	return s
}
