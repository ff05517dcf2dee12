// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and the environment on top.
// - Validate reports every missing mandatory key at once.
package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the status HTTP listen address. Empty disables it.
	Addr string `koanf:"addr"`

	// Timezone is the civil calendar of the series, e.g. "Europe/Helsinki".
	Timezone string `koanf:"timezone"`
	// RunTime is the daily trigger, HH:MM in Timezone.
	RunTime string `koanf:"run_time"`
	// RunOnStart triggers one cycle immediately at startup.
	RunOnStart bool `koanf:"run_on_start"`
	// CatchupDays is how many finalized days each cycle asks the portal for.
	CatchupDays int `koanf:"catchup_days"`
	// CycleTimeout bounds a whole fetch/filter/reconcile/import cycle.
	CycleTimeout time.Duration `koanf:"cycle_timeout"`
	// RetryDelay is the fixed delay of the single pending retry.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// StateDir holds import_state.json and retry_state.json.
	StateDir string `koanf:"state_dir"`
	// JournalPath is the SQLite cycle journal. Empty disables it.
	JournalPath string `koanf:"journal_path"`

	// Portal (reading source) settings.
	PortalLoginURL      string        `koanf:"portal_login_url"`
	PortalURL           string        `koanf:"portal_url"`
	PortalUsername      string        `koanf:"portal_username"`
	PortalPassword      string        `koanf:"portal_password"`
	PortalMeteringPoint string        `koanf:"portal_metering_point"`
	PortalPeriodID      int           `koanf:"portal_period_id"`
	PortalTimeout       time.Duration `koanf:"portal_timeout"`
	PortalMissingStatus string        `koanf:"portal_missing_status"`

	// Sink (statistics store) settings.
	SinkURL       string        `koanf:"sink_url"`
	SinkToken     string        `koanf:"sink_token"`
	SinkTimeout   time.Duration `koanf:"sink_timeout"`
	StatisticID   string        `koanf:"statistic_id"`
	StatisticName string        `koanf:"statistic_name"`
	StatisticUnit string        `koanf:"statistic_unit"`

	// MQTT day summary settings. Empty MQTTBroker disables publishing.
	MQTTBroker          string        `koanf:"mqtt_broker"`
	MQTTUsername        string        `koanf:"mqtt_username"`
	MQTTPassword        string        `koanf:"mqtt_password"`
	MQTTClientID        string        `koanf:"mqtt_client_id"`
	MQTTDiscoveryPrefix string        `koanf:"mqtt_discovery_prefix"`
	MQTTNodeID          string        `koanf:"mqtt_node_id"`
	MQTTTimeout         time.Duration `koanf:"mqtt_timeout"`

	// Reconciliation and completeness settings.
	Lookback      time.Duration `koanf:"lookback"`
	ProbeWindow   time.Duration `koanf:"probe_window"`
	ExpectedHours int           `koanf:"expected_hours"`
	CutoffDays    int           `koanf:"cutoff_days"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Timezone:            "UTC",
		RunTime:             "08:15",
		RunOnStart:          true,
		CatchupDays:         7,
		CycleTimeout:        5 * time.Minute,
		RetryDelay:          90 * time.Minute,
		StateDir:            "./data",
		JournalPath:         "./data/journal.db",
		PortalPeriodID:      9,
		PortalTimeout:       45 * time.Second,
		PortalMissingStatus: "measured",
		SinkTimeout:         30 * time.Second,
		StatisticName:       "Energy consumption",
		StatisticUnit:       "kWh",
		MQTTClientID:        "meterbridge",
		MQTTDiscoveryPrefix: "homeassistant",
		MQTTNodeID:          "tampereen_energia",
		MQTTTimeout:         10 * time.Second,
		Lookback:            90 * 24 * time.Hour,
		ProbeWindow:         10 * 365 * 24 * time.Hour,
		ExpectedHours:       0,
		CutoffDays:          2,
	}
}

// Validate checks mandatory keys and value ranges.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"portal_login_url": c.PortalLoginURL,
		"portal_url":       c.PortalURL,
		"portal_username":  c.PortalUsername,
		"portal_password":  c.PortalPassword,
		"sink_url":         c.SinkURL,
		"sink_token":       c.SinkToken,
		"statistic_id":     c.StatisticID,
		"run_time":         c.RunTime,
	}
	for _, key := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if _, _, err := ParseRunTime(c.RunTime); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	switch {
	case c.CatchupDays < 1:
		return fmt.Errorf("%w: catchup_days must be at least 1", ErrInvalidConfig)
	case c.RetryDelay <= 0:
		return fmt.Errorf("%w: retry_delay must be positive", ErrInvalidConfig)
	case c.Lookback < 24*time.Hour:
		return fmt.Errorf("%w: lookback must cover at least one day", ErrInvalidConfig)
	case c.CutoffDays < 0:
		return fmt.Errorf("%w: cutoff_days must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Location resolves Timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseRunTime parses an HH:MM daily run time.
func ParseRunTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("run_time %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
