package transcode

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

type fakeExecutor struct {
	name   string
	args   []string
	output []byte
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args ...string) (string, error) {
	f.name = name
	f.args = args
	if f.err != nil {
		return "", f.err
	}
	// ffmpeg writes the output file named by the final argument.
	if err := os.WriteFile(args[len(args)-1], f.output, 0o600); err != nil {
		return "", err
	}
	return "", nil
}

func TestCompressInvokesFFmpegAndReturnsOutput(t *testing.T) {
	exec := &fakeExecutor{output: []byte("encoded-bytes")}
	svc := New(exec, "ffmpeg")

	out, mimeType, err := svc.Compress(context.Background(), []byte("raw audio"), ".wav")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if string(out) != "encoded-bytes" {
		t.Fatalf("unexpected output: %q", out)
	}
	if mimeType != "audio/mpeg" {
		t.Fatalf("unexpected mime type: %q", mimeType)
	}
	if exec.name != "ffmpeg" {
		t.Fatalf("unexpected binary: %q", exec.name)
	}

	joined := strings.Join(exec.args, " ")
	for _, want := range []string{"-vn", "-ac 1", "-b:a 64k", "-y"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in args: %s", want, joined)
		}
	}
	if !strings.HasSuffix(exec.args[1], ".wav") {
		t.Fatalf("input path should keep the declared extension: %s", exec.args[1])
	}
}

func TestCompressPropagatesExecutorFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("codec not found")}
	svc := New(exec, "")

	_, _, err := svc.Compress(context.Background(), []byte("raw"), "mp3")
	if err == nil || !strings.Contains(err.Error(), "codec not found") {
		t.Fatalf("expected executor failure, got %v", err)
	}
}

func TestCompressRejectsEmptyOutput(t *testing.T) {
	exec := &fakeExecutor{output: nil}
	svc := New(exec, "ffmpeg")

	_, _, err := svc.Compress(context.Background(), []byte("raw"), ".flac")
	if err == nil || !strings.Contains(err.Error(), "empty output") {
		t.Fatalf("expected empty-output failure, got %v", err)
	}
}
