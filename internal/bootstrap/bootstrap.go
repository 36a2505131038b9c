// Package bootstrap creates the herald home directory layout on first run.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/neoclaw-ai/herald/internal/config"
)

// defaultConfig is the starter config.toml. Timeouts and limits mirror the
// built-in defaults so operators can see what they are tuning.
const defaultConfig = `[channels.telegram]
# Set a bot token from @BotFather, then enable. ${VAR} references are
# expanded from the environment.
enabled = false
token = ''
poll_timeout = '1m0s'

[interaction]
message_timeout = '1m0s'
reaction_timeout = '1m0s'
component_timeout = '1m0s'

[dialog]
cleanup = false
max_concurrent = 16
queue_size = 64
blocked_chats = []

[scheduler]
stats_schedule = '@every 5m'
`

// Initialize creates the expected herald home tree if missing.
func Initialize(cfg *config.Config) error {
	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	// The config holds the bot token, so keep it private to the owner.
	return writeFileIfMissing(cfg.ConfigPath(), defaultConfig, 0o600)
}

func writeFileIfMissing(path, content string, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}
