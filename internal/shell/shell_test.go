package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Yua17/tftp/internal/protocol"
	"github.com/Yua17/tftp/internal/transfer"
)

// fakeRemote serves Get from files and records Put bodies.
type fakeRemote struct {
	files map[string][]byte
	// partial is written before failing a Get of a missing file.
	partial []byte
	err     error
	put     map[string][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}, put: map[string][]byte{}}
}

func (f *fakeRemote) Get(_ context.Context, name string, dst io.Writer) (transfer.Result, error) {
	if f.err != nil {
		return transfer.Result{}, f.err
	}
	data, ok := f.files[name]
	if !ok {
		_, _ = dst.Write(f.partial)
		return transfer.Result{}, &transfer.PeerError{Code: protocol.ErrCodeFileNotFound, Message: "file not found"}
	}
	n, err := dst.Write(data)
	return transfer.Result{Bytes: int64(n), Blocks: n/protocol.BlockSize + 1}, err
}

func (f *fakeRemote) Put(_ context.Context, name string, src io.Reader) (transfer.Result, error) {
	if f.err != nil {
		return transfer.Result{}, f.err
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return transfer.Result{}, err
	}
	f.put[name] = b
	return transfer.Result{Bytes: int64(len(b)), Blocks: len(b)/protocol.BlockSize + 1}, nil
}

func run(t *testing.T, remote *fakeRemote, dir, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := New(remote, strings.NewReader(input), &out, WithDir(dir))
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestGetWritesLocalFile(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	remote.files["a.txt"] = []byte("hello world")

	out := run(t, remote, dir, "get a.txt\nexit\n")

	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(out, "get a.txt: 11 bytes in 1 blocks") {
		t.Fatalf("missing summary in %q", out)
	}
}

func TestGetFailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	remote.partial = []byte("half")

	out := run(t, remote, dir, "get missing.txt\nexit\n")

	if _, err := os.Stat(filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("temp file left behind: %v", entries)
	}
	if !strings.Contains(out, "get missing.txt: ") || !strings.Contains(out, "file not found") {
		t.Fatalf("failure not reported: %q", out)
	}
}

func TestFailedGetKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(local, []byte("precious"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	remote := newFakeRemote()
	remote.partial = []byte("half")

	run(t, remote, dir, "get notes.txt\nexit\n")

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "precious" {
		t.Fatalf("existing file changed to %q", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestGetReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(local, []byte("old contents"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	remote := newFakeRemote()
	remote.files["a.txt"] = []byte("new")

	run(t, remote, dir, "get a.txt\nexit\n")

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("got %q", got)
	}
}

func TestPutUploadsUnderBaseName(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	remote := newFakeRemote()

	run(t, remote, dir, "put sub/b.bin\nquit\n")

	if got := string(remote.put["b.bin"]); got != "payload" {
		t.Fatalf("uploaded %q", got)
	}
}

func TestPutMissingLocalFileKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	remote.files["a.txt"] = []byte("x")

	out := run(t, remote, dir, "put nothere.bin\nget a.txt\nexit\n")

	if !strings.Contains(out, "put nothere.bin: ") {
		t.Fatalf("failure not reported: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("shell stopped after a failure: %v", err)
	}
}

func TestNoResponseMessage(t *testing.T) {
	remote := newFakeRemote()
	remote.err = transfer.ErrNoResponse

	out := run(t, remote, t.TempDir(), "put x\nget y\nexit\n")
	if strings.Count(out, "server does not respond") != 1 {
		// put fails locally before reaching the server.
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"help", "help\nexit\n", "get <file>"},
		{"clear", "clear\nexit\n", clearScreen},
		{"unknown", "frobnicate\nexit\n", "Unsupported command"},
		{"usage", "get\nexit\n", "usage: get <file>"},
		{"case insensitive", "HELP\nEXIT\n", "put <file>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, newFakeRemote(), t.TempDir(), tt.input)
			if !strings.Contains(out, tt.want) {
				t.Fatalf("expected %q in %q", tt.want, out)
			}
		})
	}
}

func TestEndOfInputExits(t *testing.T) {
	out := run(t, newFakeRemote(), t.TempDir(), "\n")
	if strings.Count(out, prompt) != 2 {
		t.Fatalf("expected two prompts, got %q", out)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sh := New(newFakeRemote(), strings.NewReader("help\n"), io.Discard)
	if err := sh.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
