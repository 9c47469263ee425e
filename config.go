package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "mc-bridge.yaml"

type Config struct {
	Server   ServerSection  `yaml:"server"`
	Restart  RestartConfig  `yaml:"restart"`
	Discord  DiscordConfig  `yaml:"discord"`
	Presence PresenceConfig `yaml:"presence"`
	RCON     RCONConfig     `yaml:"rcon"`
	OTel     OTelConfig     `yaml:"otel"`
	Console  ConsoleConfig  `yaml:"console"`
}

type ServerSection struct {
	Jar         string        `yaml:"jar"`
	Java        string        `yaml:"java"`
	MemoryMB    int           `yaml:"memory_mb"`
	JVMFlags    []string      `yaml:"jvm_flags"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type RestartConfig struct {
	Backoff         []time.Duration `yaml:"backoff"`
	MaxAttempts     int             `yaml:"max_attempts"` // 0 retries forever
	StabilityWindow time.Duration   `yaml:"stability_window"`
}

type DiscordConfig struct {
	Enabled          bool          `yaml:"enabled"`
	CommandPrefix    string        `yaml:"command_prefix"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
	Token            string        `yaml:"-"` // from env only
	ChannelID        string        `yaml:"-"` // from env or flag
}

type PresenceConfig struct {
	Enabled      bool          `yaml:"enabled"`       // bot status line
	ChannelTopic bool          `yaml:"channel_topic"` // bridged channel topic
	Interval     time.Duration `yaml:"interval"`
}

type RCONConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	Password      string        `yaml:"-"` // from env only
}

type OTelConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceName string        `yaml:"service_name"`
	Interval    time.Duration `yaml:"interval"`
}

type ConsoleConfig struct {
	Color bool `yaml:"color"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerSection{
			Jar:         "server.jar",
			Java:        "java",
			MemoryMB:    1024,
			StopTimeout: 30 * time.Second,
		},
		Restart: RestartConfig{
			Backoff:         []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, time.Minute},
			StabilityWindow: 10 * time.Minute,
		},
		Discord: DiscordConfig{
			CommandPrefix:    "!mc ",
			ReconnectInitial: time.Second,
			ReconnectMax:     2 * time.Minute,
		},
		Presence: PresenceConfig{
			Enabled:      true,
			ChannelTopic: true,
			Interval:     60 * time.Second,
		},
		RCON: RCONConfig{
			Host:          "localhost",
			Port:          25575,
			ProbeInterval: time.Minute,
		},
		OTel: OTelConfig{
			ServiceName: "mc-bridge",
			Interval:    15 * time.Second,
		},
		Console: ConsoleConfig{
			Color: true,
		},
	}
}

// loadConfig overlays the YAML file at path on the defaults and reads
// secrets from the environment. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = envOr("CONFIG_PATH", defaultConfigPath)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.Discord.Token = os.Getenv("DISCORD_TOKEN")
	if v := os.Getenv("DISCORD_CHANNEL_ID"); v != "" {
		cfg.Discord.ChannelID = v
	}
	cfg.RCON.Password = os.Getenv("RCON_PASSWORD")

	return cfg, nil
}

// Validate checks the merged configuration before anything is started.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Jar == "" {
		errs = append(errs, errors.New("server jar path is required"))
	} else if info, err := os.Stat(c.Server.Jar); err != nil {
		errs = append(errs, fmt.Errorf("server jar: %w", err))
	} else if info.IsDir() {
		errs = append(errs, fmt.Errorf("server jar %s is a directory", c.Server.Jar))
	}
	if c.Server.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("memory must be positive, got %d MB", c.Server.MemoryMB))
	}
	if len(c.Restart.Backoff) == 0 {
		errs = append(errs, errors.New("restart backoff schedule is empty"))
	}
	for i, d := range c.Restart.Backoff {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("restart backoff entry %d must be positive, got %s", i, d))
		}
	}
	if c.Restart.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("restart max_attempts must not be negative, got %d", c.Restart.MaxAttempts))
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			errs = append(errs, errors.New("DISCORD_TOKEN env is required when the Discord bridge is enabled"))
		}
		if c.Discord.ChannelID == "" {
			errs = append(errs, errors.New("a Discord channel ID is required when the Discord bridge is enabled"))
		}
		if c.Discord.ReconnectInitial <= 0 || c.Discord.ReconnectMax < c.Discord.ReconnectInitial {
			errs = append(errs, errors.New("discord reconnect delays must be positive with reconnect_max >= reconnect_initial"))
		}
		if (c.Presence.Enabled || c.Presence.ChannelTopic) && c.Presence.Interval <= 0 {
			errs = append(errs, errors.New("presence interval must be positive"))
		}
	}
	if c.RCON.Enabled {
		if c.RCON.Password == "" {
			errs = append(errs, errors.New("RCON_PASSWORD env is required when RCON is enabled"))
		}
		if c.RCON.ProbeInterval <= 0 {
			errs = append(errs, errors.New("rcon probe_interval must be positive"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) serverConfig() ServerConfig {
	return ServerConfig{
		JarPath:     c.Server.Jar,
		JavaPath:    c.Server.Java,
		MemoryMB:    c.Server.MemoryMB,
		JVMFlags:    c.Server.JVMFlags,
		StopTimeout: c.Server.StopTimeout,
	}
}

func (c *Config) restartPolicy() RestartPolicy {
	return RestartPolicy{
		Backoff:         c.Restart.Backoff,
		MaxAttempts:     c.Restart.MaxAttempts,
		StabilityWindow: c.Restart.StabilityWindow,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
