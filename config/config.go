// Package config loads the break-scheduler configuration from an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Intervals struct {
	Schedule   time.Duration `yaml:"schedule"`
	AlarmCheck time.Duration `yaml:"alarm_check"`
	BreakPoll  time.Duration `yaml:"break_poll"`
	Display    time.Duration `yaml:"display"`
}

type Alarm struct {
	TriggerWindow time.Duration `yaml:"trigger_window"`
	Cooldown      time.Duration `yaml:"cooldown"`
	ReminderLead  time.Duration `yaml:"reminder_lead"`
	EndOfShift    bool          `yaml:"end_of_shift"`
	// SoundCommand is run to play the alarm, see notify.CommandPlayer.
	SoundCommand string `yaml:"sound_command"`
}

type Bio struct {
	Pool    time.Duration `yaml:"pool"`
	Warning time.Duration `yaml:"warning"`
}

// Config is the top-level YAML structure.
type Config struct {
	APIURL     string    `yaml:"api_url"`
	AgentID    string    `yaml:"agent_id"`
	AgentName  string    `yaml:"agent_name"`
	ListenAddr string    `yaml:"listen_addr"`
	Timezone   string    `yaml:"timezone"`
	LogLevel   string    `yaml:"log_level"`
	Intervals  Intervals `yaml:"intervals"`
	Alarm      Alarm     `yaml:"alarm"`
	Bio        Bio       `yaml:"bio"`
}

func Default() *Config {
	return &Config{
		APIURL:     "http://localhost:3000",
		ListenAddr: "127.0.0.1:8089",
		Timezone:   "Local",
		LogLevel:   "info",
		Intervals: Intervals{
			Schedule:   30 * time.Second,
			AlarmCheck: 5 * time.Second,
			BreakPoll:  5 * time.Second,
			Display:    time.Second,
		},
		Alarm: Alarm{
			TriggerWindow: time.Minute,
			Cooldown:      2 * time.Minute,
			ReminderLead:  5 * time.Minute,
		},
		Bio: Bio{
			Pool:    15 * time.Minute,
			Warning: 3 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path or a missing file is not an error.
// The result is not validated; flags may still override it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.APIURL = getEnv("BREAKS_API_URL", cfg.APIURL)
	cfg.AgentID = getEnv("BREAKS_AGENT_ID", cfg.AgentID)
	cfg.AgentName = getEnv("BREAKS_AGENT_NAME", cfg.AgentName)
	cfg.ListenAddr = getEnv("BREAKS_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Timezone = getEnv("BREAKS_TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// Validate checks the settings the session cannot run without.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required (BREAKS_AGENT_ID or -agent)")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required (BREAKS_API_URL or -api)")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	for name, d := range map[string]time.Duration{
		"intervals.schedule":    c.Intervals.Schedule,
		"intervals.alarm_check": c.Intervals.AlarmCheck,
		"intervals.break_poll":  c.Intervals.BreakPoll,
		"intervals.display":     c.Intervals.Display,
		"alarm.trigger_window":  c.Alarm.TriggerWindow,
		"bio.pool":              c.Bio.Pool,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", name, d)
		}
	}
	if c.Alarm.TriggerWindow <= c.Intervals.AlarmCheck {
		return fmt.Errorf("alarm.trigger_window (%s) must be longer than intervals.alarm_check (%s)",
			c.Alarm.TriggerWindow, c.Intervals.AlarmCheck)
	}
	for name, d := range map[string]time.Duration{
		"alarm.cooldown":      c.Alarm.Cooldown,
		"alarm.reminder_lead": c.Alarm.ReminderLead,
		"bio.warning":         c.Bio.Warning,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative (got %s)", name, d)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: trace, debug, info, warn, error (got: %s)", c.LogLevel)
	}
	return nil
}

// Location resolves the configured timezone. Shift times are wall-clock
// times in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
