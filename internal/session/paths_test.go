package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".zapboard", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestLocalDBPath(t *testing.T) {
	got := LocalDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "local.db")) {
		t.Errorf("LocalDBPath(test) = %q, want suffix sessions/test/local.db", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "logs", "zapboard.log")) {
		t.Errorf("LogPath(test) = %q, want suffix sessions/test/logs/zapboard.log", got)
	}
}
