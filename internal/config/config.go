// Package config loads runtime configuration for the sound localization
// server: network/TLS settings, listener geometry, room bounds, and the
// tunable constants that drive onset detection, sync, and TDOA solving.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Point is a 2-D coordinate in meters.
type Point struct {
	X float64
	Y float64
}

// Listener is one of the three fixed, known-position acoustic sensors.
type Listener struct {
	ID  string
	Pos Point
}

// RoomBounds is the rectangular extent of the room, in meters.
type RoomBounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Config holds all runtime configuration for the localization server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	TLSCert     string
	TLSKey      string
	LogLevel    string
	LogFormat   string
	CORSOrigins string
	ACMEDomain  string
	ACMEEmail   string

	// Listener geometry. The spec fixes exactly three listeners; Load fills
	// positions and room bounds from built-in defaults, and no flag or env
	// var overrides them.
	Listeners []Listener

	RoomBounds RoomBounds

	SpeedOfSound              float64 // m/s
	ClapThreshold             float64 // raw loudness units
	EventWindowMS             float64
	SyncWindowMS              float64
	SyncRounds                int
	MinDevicesForLocalization int
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultSpeedOfSound  = 343.0
	defaultClapThreshold = 10000.0
	defaultEventWindowMS = 200.0
	defaultSyncWindowMS  = 5000.0
	defaultSyncRounds    = 10
	defaultMinDevices    = 3
)

// envPrefix is the prefix for all environment variables.
const envPrefix = "SOUNDTRI_"

// defaultListeners is the canonical three-listener layout used in the
// reference room: A and B flank the near wall, C sits opposite.
func defaultListeners() []Listener {
	return []Listener{
		{ID: "A", Pos: Point{X: -5, Y: -3}},
		{ID: "B", Pos: Point{X: 5, Y: -3}},
		{ID: "C", Pos: Point{X: 0, Y: 3.5}},
	}
}

func defaultRoomBounds() RoomBounds {
	return RoomBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10}
}

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Listeners:  defaultListeners(),
		RoomBounds: defaultRoomBounds(),
	}

	fs := flag.NewFlagSet("soundtri", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the event archive")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP/WebSocket server listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.ACMEDomain, "acme-domain", "", "domain for automatic Let's Encrypt TLS certificate")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", "", "contact email for Let's Encrypt account notifications")

	fs.Float64Var(&cfg.SpeedOfSound, "speed-of-sound", defaultSpeedOfSound, "speed of sound in m/s")
	fs.Float64Var(&cfg.ClapThreshold, "clap-threshold", defaultClapThreshold, "loudness threshold that marks a clap onset")
	fs.Float64Var(&cfg.EventWindowMS, "event-window-ms", defaultEventWindowMS, "maximum adjusted-timestamp span across listeners for one event")
	fs.Float64Var(&cfg.SyncWindowMS, "sync-window-ms", defaultSyncWindowMS, "maximum age of a partial sync round before it is discarded")
	fs.IntVar(&cfg.SyncRounds, "sync-rounds", defaultSyncRounds, "number of sync rounds collected before committing offsets")
	fs.IntVar(&cfg.MinDevicesForLocalization, "min-devices", defaultMinDevices, "number of listeners required to localize an event (fixed at 3)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag not
// explicitly provided on the command line, preserving CLI > env > default.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":        envPrefix + "DATA_DIR",
		"http-port":       envPrefix + "HTTP_PORT",
		"tls-cert":        envPrefix + "TLS_CERT",
		"tls-key":         envPrefix + "TLS_KEY",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
		"cors-origins":    envPrefix + "CORS_ORIGINS",
		"acme-domain":     envPrefix + "ACME_DOMAIN",
		"acme-email":      envPrefix + "ACME_EMAIL",
		"speed-of-sound":  envPrefix + "SPEED_OF_SOUND",
		"clap-threshold":  envPrefix + "CLAP_THRESHOLD",
		"event-window-ms": envPrefix + "EVENT_WINDOW_MS",
		"sync-window-ms":  envPrefix + "SYNC_WINDOW_MS",
		"sync-rounds":     envPrefix + "SYNC_ROUNDS",
		"min-devices":     envPrefix + "MIN_DEVICES",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "acme-domain":
			cfg.ACMEDomain = val
		case "acme-email":
			cfg.ACMEEmail = val
		case "speed-of-sound":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.SpeedOfSound = v
			}
		case "clap-threshold":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.ClapThreshold = v
			}
		case "event-window-ms":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.EventWindowMS = v
			}
		case "sync-window-ms":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.SyncWindowMS = v
			}
		case "sync-rounds":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SyncRounds = v
			}
		case "min-devices":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MinDevicesForLocalization = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}
	if c.ACMEDomain != "" && c.TLSCert != "" {
		return fmt.Errorf("acme-domain and tls-cert/tls-key are mutually exclusive")
	}

	if len(c.Listeners) != 3 {
		return fmt.Errorf("exactly three listeners are required, got %d", len(c.Listeners))
	}
	if c.MinDevicesForLocalization != 3 {
		return fmt.Errorf("min-devices must equal 3, got %d", c.MinDevicesForLocalization)
	}
	if c.SpeedOfSound <= 0 {
		return fmt.Errorf("speed-of-sound must be positive, got %v", c.SpeedOfSound)
	}
	if c.EventWindowMS <= 0 {
		return fmt.Errorf("event-window-ms must be positive, got %v", c.EventWindowMS)
	}
	if c.SyncWindowMS <= 0 {
		return fmt.Errorf("sync-window-ms must be positive, got %v", c.SyncWindowMS)
	}
	if c.SyncRounds < 1 {
		return fmt.Errorf("sync-rounds must be at least 1, got %d", c.SyncRounds)
	}

	return nil
}

// TLSEnabled returns true if either manual TLS certificates or automatic
// ACME (Let's Encrypt) certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.ACMEDomain != ""
}

// ListenerIDs returns the configured listener ids in configuration order,
// which is also the dispatcher's canonical enumeration order.
func (c *Config) ListenerIDs() []string {
	ids := make([]string, len(c.Listeners))
	for i, l := range c.Listeners {
		ids[i] = l.ID
	}
	return ids
}

// ListenerPosition returns the position of the listener with the given id
// and whether it was found.
func (c *Config) ListenerPosition(id string) (Point, bool) {
	for _, l := range c.Listeners {
		if l.ID == id {
			return l.Pos, true
		}
	}
	return Point{}, false
}

// KnownListener reports whether id names one of the configured listeners.
func (c *Config) KnownListener(id string) bool {
	_, ok := c.ListenerPosition(id)
	return ok
}

// ExtendedBounds returns the room bounds extended by margin meters on each
// side, used as the TDOA solver's plausibility gate.
func (c *Config) ExtendedBounds(margin float64) RoomBounds {
	return RoomBounds{
		MinX: c.RoomBounds.MinX - margin,
		MaxX: c.RoomBounds.MaxX + margin,
		MinY: c.RoomBounds.MinY - margin,
		MaxY: c.RoomBounds.MaxY + margin,
	}
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
