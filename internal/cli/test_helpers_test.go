package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".herald")
	t.Setenv("HERALD_HOME", homeDir)
	return homeDir
}

func writeConfig(t *testing.T, homeDir, body string) {
	t.Helper()
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeValidConfig(t *testing.T, homeDir string) {
	t.Helper()
	writeConfig(t, homeDir, `
[channels.telegram]
enabled = true
token = "telegram-token"

[interaction]
message_timeout = "2s"
`)
}

func writeConsoleConfig(t *testing.T, homeDir string) {
	t.Helper()
	writeConfig(t, homeDir, `
[channels.telegram]
enabled = false

[scheduler]
stats_schedule = ""
`)
}

// syncBuffer is written by the console loop and dialog goroutines at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
