// Package config loads herald runtime configuration from a TOML file and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const defaultTelegramChannel = "telegram"

// Config is the runtime configuration loaded from defaults and config.toml.
type Config struct {
	// HomeDir is runtime-resolved from HERALD_HOME and not read from config.
	HomeDir     string                   `mapstructure:"-"`
	Channels    map[string]ChannelConfig `mapstructure:"channels"`
	Interaction InteractionConfig        `mapstructure:"interaction"`
	Dialog      DialogConfig             `mapstructure:"dialog"`
	Scheduler   SchedulerConfig          `mapstructure:"scheduler"`
}

// ChannelConfig configures one chat platform.
type ChannelConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Token       string        `mapstructure:"token"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// InteractionConfig holds the default wait window per event category.
type InteractionConfig struct {
	MessageTimeout   time.Duration `mapstructure:"message_timeout"`
	ReactionTimeout  time.Duration `mapstructure:"reaction_timeout"`
	ComponentTimeout time.Duration `mapstructure:"component_timeout"`
}

// DialogConfig controls how command dialogs run.
type DialogConfig struct {
	// Cleanup deletes every dialog message once the dialog finishes.
	Cleanup       bool    `mapstructure:"cleanup"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	QueueSize     int     `mapstructure:"queue_size"`
	BlockedChats  []int64 `mapstructure:"blocked_chats"`
}

// SchedulerConfig configures housekeeping jobs. An empty schedule disables the job.
type SchedulerConfig struct {
	StatsSchedule string `mapstructure:"stats_schedule"`
}

var defaultConfig = Config{
	Channels: map[string]ChannelConfig{
		defaultTelegramChannel: {
			Enabled:     true,
			Token:       "",
			PollTimeout: time.Minute,
		},
	},
	Interaction: InteractionConfig{
		MessageTimeout:   60 * time.Second,
		ReactionTimeout:  60 * time.Second,
		ComponentTimeout: 60 * time.Second,
	},
	Dialog: DialogConfig{
		Cleanup:       false,
		MaxConcurrent: 16,
		QueueSize:     64,
	},
	Scheduler: SchedulerConfig{
		StatsSchedule: "@every 5m",
	},
}

// HomeDir returns the herald home directory.
// Uses HERALD_HOME env var if set, otherwise defaults to ~/.herald.
func HomeDir() (string, error) {
	if dir := os.Getenv("HERALD_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Config is always at $HERALD_HOME/config.toml.
func Load() (*Config, error) {
	homeDir, err := HomeDir()
	if err != nil {
		return nil, err
	}
	v, err := readConfig(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir
	return &cfg, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := HomeDir()
	if err != nil {
		return err
	}
	v, err := readConfig(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range []string{
		"channels.telegram.poll_timeout",
		"interaction.message_timeout",
		"interaction.reaction_timeout",
		"interaction.component_timeout",
	} {
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func readConfig(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	telegram := defaultConfig.Channels[defaultTelegramChannel]
	v.SetDefault("channels.telegram.enabled", telegram.Enabled)
	v.SetDefault("channels.telegram.token", telegram.Token)
	v.SetDefault("channels.telegram.poll_timeout", telegram.PollTimeout)

	v.SetDefault("interaction.message_timeout", defaultConfig.Interaction.MessageTimeout)
	v.SetDefault("interaction.reaction_timeout", defaultConfig.Interaction.ReactionTimeout)
	v.SetDefault("interaction.component_timeout", defaultConfig.Interaction.ComponentTimeout)

	v.SetDefault("dialog.cleanup", defaultConfig.Dialog.Cleanup)
	v.SetDefault("dialog.max_concurrent", defaultConfig.Dialog.MaxConcurrent)
	v.SetDefault("dialog.queue_size", defaultConfig.Dialog.QueueSize)
	v.SetDefault("dialog.blocked_chats", []int64{})

	v.SetDefault("scheduler.stats_schedule", defaultConfig.Scheduler.StatsSchedule)
}

// TelegramChannel returns Telegram channel config with fallback defaults.
func (c *Config) TelegramChannel() ChannelConfig {
	if ch, ok := c.Channels[defaultTelegramChannel]; ok {
		return ch
	}
	return defaultConfig.Channels[defaultTelegramChannel]
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
