package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func TestSetupWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	out, err := Setup(Options{
		Dir:     dir,
		Level:   "INFO",
		Console: &console,
		Now:     func() time.Time { return time.Date(2026, 10, 17, 4, 5, 6, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		_ = Console(os.Stderr, DefaultLevel)
		_ = out.Close()
	})

	if want := filepath.Join(dir, "2026-10-17T04-05-06.log"); out.Path != want {
		t.Fatalf("path mismatch: got %s want %s", out.Path, want)
	}

	logger := logging.MustGetLogger("logs-test")
	logger.Infof("hello %s", "file")
	logger.Debugf("hidden")

	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "INFO logs-test hello file") {
		t.Fatalf("file missing line: %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("debug line leaked at info level: %q", data)
	}
	if !strings.Contains(console.String(), "hello file") {
		t.Fatalf("console missing line: %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("debug"); err != nil || level != logging.DEBUG {
		t.Fatalf("debug: level=%v err=%v", level, err)
	}
	if level, err := ParseLevel(""); err != nil || level != logging.INFO {
		t.Fatalf("default: level=%v err=%v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
