package config

import "path/filepath"

const (
	// Global layout under HERALD_HOME.
	ConfigFilePath  = "config.toml"
	DataDirPath     = "data"
	HistoryFilePath = "console_history"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".herald")
}

func homeDataPath(home string) string {
	return filepath.Join(home, DataDirPath)
}

func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

func (c *Config) DataDir() string {
	return homeDataPath(c.HomeDir)
}

// ConsoleHistoryPath is the readline history file of `herald console`.
func (c *Config) ConsoleHistoryPath() string {
	return filepath.Join(c.DataDir(), HistoryFilePath)
}
