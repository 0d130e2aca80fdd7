package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	if _, err := Setup("debug", ""); err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
	if _, err := Setup("loud", ""); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetupFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	path := filepath.Join(t.TempDir(), "argh.log")
	closer, err := Setup("info", path)
	if err != nil {
		t.Fatal(err)
	}
	log.WithField("repo", "o/r").Info("Committed repository")
	log.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "Committed repository") || !strings.Contains(out, "repo=o/r") {
		t.Errorf("log file = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
}
