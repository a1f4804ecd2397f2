// Package config loads and validates the coursecal YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Backend selects the calendar provider implementation.
const (
	BackendICS       = "ics"
	BackendReminders = "reminders"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// SchedulesDir is the directory holding the materialized schedule data:
	// enrollments.json plus one dates/<courseID>.json file per course.
	SchedulesDir string `yaml:"schedules_dir"`

	// StateDBPath overrides the SQLite state database location.
	// Defaults to ~/.local/share/coursecal/state.db.
	StateDBPath string `yaml:"state_db_path,omitempty"`

	// Calendar configures the shared course calendar.
	Calendar CalendarConfig `yaml:"calendar"`

	// DebounceWindow is the quiet window applied to rapid repeated sync
	// triggers for the same course. Minimum 10ms, maximum 10s.
	// Defaults to 100ms if unset.
	DebounceWindow time.Duration `yaml:"debounce_window,omitempty"`

	// SweepSchedule is the periodic drift-check cadence in cron syntax
	// (descriptors like "@every 1h" allowed). Defaults to "@every 1h".
	SweepSchedule string `yaml:"sweep_schedule,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// CalendarConfig selects and parameterizes the calendar backend.
type CalendarConfig struct {
	// Backend is "ics" (calendar file) or "reminders" (Apple Reminders).
	Backend string `yaml:"backend"`

	// Title is the display name given to the calendar when it is created.
	// Defaults to "My Course Dates".
	Title string `yaml:"title,omitempty"`

	// Color is the calendar color as a hex RGB string (e.g. "#2196F3").
	// Used at creation time only. Defaults to "#2196F3".
	Color string `yaml:"color,omitempty"`

	// ICSPath is the calendar file location for the ics backend.
	// Defaults to ~/.local/share/coursecal/coursecal.ics.
	ICSPath string `yaml:"ics_path,omitempty"`

	// RemindersList is the Reminders list name for the reminders backend.
	// Defaults to the Title.
	RemindersList string `yaml:"reminders_list,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "coursecal".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/coursecal/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "coursecal", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.SchedulesDir == "" {
		return fmt.Errorf("schedules_dir is required")
	}

	switch c.Calendar.Backend {
	case BackendICS, BackendReminders:
	case "":
		return fmt.Errorf("calendar.backend is required (%q or %q)", BackendICS, BackendReminders)
	default:
		return fmt.Errorf("calendar.backend %q must be %q or %q", c.Calendar.Backend, BackendICS, BackendReminders)
	}

	if c.Calendar.Title == "" {
		c.Calendar.Title = "My Course Dates"
	}
	if c.Calendar.Color == "" {
		c.Calendar.Color = "#2196F3"
	}
	if _, err := c.Calendar.ColorARGB(); err != nil {
		return err
	}
	if c.Calendar.RemindersList == "" {
		c.Calendar.RemindersList = c.Calendar.Title
	}

	if c.DebounceWindow == 0 {
		c.DebounceWindow = 100 * time.Millisecond
	}
	if c.DebounceWindow < 10*time.Millisecond {
		return fmt.Errorf("debounce_window %v is too short (minimum 10ms)", c.DebounceWindow)
	}
	if c.DebounceWindow > 10*time.Second {
		return fmt.Errorf("debounce_window %v is too long (maximum 10s)", c.DebounceWindow)
	}

	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1h"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.SweepSchedule); err != nil {
		return fmt.Errorf("sweep_schedule %q is not a valid cron expression: %w", c.SweepSchedule, err)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

// ColorARGB parses the configured hex color into the opaque ARGB form the
// calendar providers expect.
func (c *CalendarConfig) ColorARGB() (int32, error) {
	s := c.Color
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return 0, fmt.Errorf("calendar.color %q must be a #RRGGBB hex string", c.Color)
	}
	var rgb uint32
	if _, err := fmt.Sscanf(s, "%06x", &rgb); err != nil {
		return 0, fmt.Errorf("calendar.color %q must be a #RRGGBB hex string", c.Color)
	}
	return int32(0xFF000000 | rgb), nil
}
