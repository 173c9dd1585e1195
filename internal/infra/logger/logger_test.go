package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatstream/internal/infra/config"
)

func TestNewFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, closeFn, err := New(config.LoggerConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Debug("starting up", "port", 8080)
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"starting up"`) {
		t.Errorf("log output missing message: %s", out)
	}
	if !strings.Contains(out, `"service":"chatstream"`) {
		t.Errorf("log output missing service attribute: %s", out)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("log file permissions = %o, want group/other bits clear", perm)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, closeFn, err := New(config.LoggerConfig{
		Level:  "chatty",
		Format: "json",
		Output: path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeFn()

	log.Debug("hidden")
	log.Info("visible")

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("debug record emitted at default level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("info record missing at default level")
	}
}
