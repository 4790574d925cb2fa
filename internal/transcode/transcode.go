// Package transcode re-encodes oversized audio uploads to a low
// bitrate before they are sent inline to the inference endpoint.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Compressed output is always mono mp3 at this bitrate.
const (
	outputBitrate  = "64k"
	OutputMIMEType = "audio/mpeg"
)

// Executor runs an external command and returns its stdout.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func NewExecutor() Executor {
	return execRunner{}
}

func (execRunner) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("command %q failed: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("command %q failed: %w", name, err)
	}
	return stdout.String(), nil
}

type Service struct {
	executor   Executor
	ffmpegPath string
}

func New(executor Executor, ffmpegPath string) *Service {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Service{executor: executor, ffmpegPath: ffmpegPath}
}

// Compress writes data to a temp file, re-encodes it with ffmpeg and
// returns the encoded bytes plus their MIME type. No retries; any
// failure aborts the current request.
func (s *Service) Compress(ctx context.Context, data []byte, ext string) ([]byte, string, error) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	id := uuid.NewString()
	inPath := filepath.Join(os.TempDir(), "notewire-"+id+ext)
	outPath := filepath.Join(os.TempDir(), "notewire-"+id+"-compressed.mp3")
	defer func() {
		_ = os.Remove(inPath)
		_ = os.Remove(outPath)
	}()

	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("write temp input: %w", err)
	}

	// -vn: audio only
	// -ac 1: mono
	// -b:a 64k: target bitrate
	args := []string{
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-b:a", outputBitrate,
		"-y",
		outPath,
	}
	if _, err := s.executor.Execute(ctx, s.ffmpegPath, args...); err != nil {
		return nil, "", fmt.Errorf("ffmpeg transcode: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, "", fmt.Errorf("read transcoded output: %w", err)
	}
	if len(out) == 0 {
		return nil, "", fmt.Errorf("ffmpeg produced empty output")
	}
	return out, OutputMIMEType, nil
}
