// Package conf holds the database engine configuration, loaded from YAML.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoggingConf holds structured logging settings.
type LoggingConf struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "json" or "console".
	Format string `yaml:"format"`
}

// Conf holds database-engine configuration parameters.
type Conf struct {
	// --- Identity ---
	MudName string `yaml:"mud_name"`

	// --- Key objects ---
	PlayerStartingRoom int `yaml:"player_starting_room"`
	DefaultHome        int `yaml:"default_home"`
	DefaultZone        int `yaml:"default_zone"`
	RootPlayer         int `yaml:"root_player"`

	// --- Object table ---
	InitialCapacity int `yaml:"initial_capacity"`
	MaxObjects      int `yaml:"max_objects"`
	MaxNameLen      int `yaml:"max_name_len"`

	// --- Attributes ---
	MaxUserAttrs int `yaml:"max_user_attrs"` // Per-object cap on @defattr

	// --- Collector ---
	GCChunkSize      int `yaml:"gc_chunk_size"`       // Objects checked per incremental step
	GCIntervalMs     int `yaml:"gc_interval_ms"`      // Scheduler tick between incremental steps
	FullPassInterval int `yaml:"full_pass_interval"`  // Minutes between full passes, 0 = on demand only
	DoomDelay        int `yaml:"doom_delay"`          // Seconds between @destroy and final recycling
	ZoneNestLimit    int `yaml:"zone_nest_limit"`     // Max zone hops before the chain is reset

	// --- Loader ---
	LoadBatchSize int `yaml:"load_batch_size"` // Objects parsed per loader step

	// --- Economy (refunds on destruction) ---
	RoomCost    int `yaml:"room_cost"`
	ExitCost    int `yaml:"exit_cost"`
	ThingCost   int `yaml:"thing_cost"`
	ChannelCost int `yaml:"channel_cost"`

	// --- Persistence ---
	FlatFile         string `yaml:"flatfile"`
	BoltPath         string `yaml:"bolt_path"`
	SQLExportPath    string `yaml:"sql_export_path"`
	AutosaveInterval int    `yaml:"autosave_interval"` // Minutes, 0 = disabled

	// --- Archive/Backup ---
	ArchiveDir      string `yaml:"archive_dir"`
	ArchiveInterval int    `yaml:"archive_interval"` // Minutes, 0 = disabled
	ArchiveRetain   int    `yaml:"archive_retain"`   // Keep last N archives, 0 = unlimited

	// --- Observability ---
	Logging     LoggingConf `yaml:"logging"`
	MetricsAddr string      `yaml:"metrics_addr"` // Empty = metrics endpoint disabled

	// path is the file this configuration was loaded from.
	path string `yaml:"-"`
}

// Default returns a Conf with MUSE-compatible defaults.
func Default() *Conf {
	return &Conf{
		MudName:            "MuseDB",
		PlayerStartingRoom: 0,
		DefaultHome:        0,
		DefaultZone:        0,
		RootPlayer:         1,
		InitialCapacity:    100,
		MaxObjects:         1 << 24,
		MaxNameLen:         512,
		MaxUserAttrs:       100,
		GCChunkSize:        123,
		GCIntervalMs:       1000,
		FullPassInterval:   0,
		DoomDelay:          900,
		ZoneNestLimit:      15,
		LoadBatchSize:      1000,
		RoomCost:           10,
		ExitCost:           1,
		ThingCost:          10,
		ChannelCost:        10,
		AutosaveInterval:   60,
		ArchiveDir:         "backups",
		Logging:            LoggingConf{Level: "info", Format: "console"},
	}
}

// Load reads a YAML configuration file on top of the defaults and validates it.
func Load(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	c.path = path

	// Resolve persistence paths relative to the config dir
	baseDir := filepath.Dir(path)
	for _, p := range []*string{&c.FlatFile, &c.BoltPath, &c.SQLExportPath, &c.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the file the configuration was loaded from, or "".
func (c *Conf) Path() string { return c.path }

// Validate checks all configuration invariants.
func (c *Conf) Validate() error {
	var errs []string
	if c.RootPlayer < 0 {
		errs = append(errs, fmt.Sprintf("root_player must be >= 0, got %d", c.RootPlayer))
	}
	if c.InitialCapacity < 1 {
		errs = append(errs, fmt.Sprintf("initial_capacity must be >= 1, got %d", c.InitialCapacity))
	}
	if c.MaxObjects < c.InitialCapacity {
		errs = append(errs, "max_objects must not be below initial_capacity")
	}
	if c.GCChunkSize < 1 {
		errs = append(errs, fmt.Sprintf("gc_chunk_size must be >= 1, got %d", c.GCChunkSize))
	}
	if c.LoadBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("load_batch_size must be >= 1, got %d", c.LoadBatchSize))
	}
	if c.MaxUserAttrs < 0 {
		errs = append(errs, fmt.Sprintf("max_user_attrs must be >= 0, got %d", c.MaxUserAttrs))
	}
	if c.ZoneNestLimit < 1 {
		errs = append(errs, fmt.Sprintf("zone_nest_limit must be >= 1, got %d", c.ZoneNestLimit))
	}
	if c.DoomDelay < 0 {
		errs = append(errs, "doom_delay must not be negative")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
