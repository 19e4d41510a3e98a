// Package config handles configuration loading, validation, and persistence
// for the Realmcore simulation server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 10300
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for Realmcore.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains the simulation and game listener settings.
type ServerData struct {
	Name        string `json:"name"`
	BindAddress string `json:"bind_address"`
	GamePort    int    `json:"game_port"`
	APIPort     int    `json:"api_port"`

	// Simulation
	TickIntervalMs        int    `json:"tick_interval_ms"`
	VisibilityRadius      int    `json:"visibility_radius"`
	LongTickThresholdMs   int    `json:"long_tick_threshold_ms"`
	ConcentrationCapacity int    `json:"concentration_capacity"`
	CatalogFile           string `json:"catalog_file"`

	// Sessions
	MaxSessions        int    `json:"max_sessions"`
	SessionIdleTimeout int    `json:"session_idle_timeout_sec"`
	OutboundQueueSize  int    `json:"outbound_queue_size"`
	StartRegion        uint16 `json:"start_region"`

	Regions []RegionConfig `json:"regions"`
}

// RegionConfig describes one independently ticked world region.
type RegionConfig struct {
	ID    uint16       `json:"id"`
	Name  string       `json:"name"`
	Zones []ZoneConfig `json:"zones"`
	Areas []AreaConfig `json:"areas"`
}

// ZoneConfig places a zone's local coordinate space inside its region.
type ZoneConfig struct {
	ID      uint16 `json:"id"`
	Name    string `json:"name"`
	XOffset int32  `json:"x_offset"`
	YOffset int32  `json:"y_offset"`
}

// AreaConfig is a circular area that may demand line-of-sight checks.
type AreaConfig struct {
	Name     string `json:"name"`
	X        int32  `json:"x"`
	Y        int32  `json:"y"`
	Radius   int32  `json:"radius"`
	CheckLOS bool   `json:"check_los"`
}

// ApplicationData contains the ambient service configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	Journal  JournalConfig  `json:"journal"`
	Redis    RedisConfig    `json:"redis"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	GeneralHealthInterval int `json:"general_health_interval_sec"`
	LagCheckInterval      int `json:"lag_check_interval_sec"`
	HeartbeatInterval     int `json:"heartbeat_interval_sec"`
	JournalPruneInterval  int `json:"journal_prune_interval_sec"`
}

// JournalConfig holds the combat and security journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Driver        string `json:"driver"`
	DSN           string `json:"dsn"`
	RetentionDays int    `json:"retention_days"`
}

// RedisConfig holds the cooldown mirror settings.
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
	APIToken       string   `json:"api_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			Name:                  "realmcore",
			BindAddress:           "0.0.0.0",
			GamePort:              DefaultGamePort,
			APIPort:               DefaultAPIPort,
			TickIntervalMs:        100,
			VisibilityRadius:      3600,
			LongTickThresholdMs:   250,
			ConcentrationCapacity: 3,
			MaxSessions:           500,
			SessionIdleTimeout:    120,
			OutboundQueueSize:     256,
			StartRegion:           1,
			Regions: []RegionConfig{
				{
					ID:   1,
					Name: "Albion",
					Zones: []ZoneConfig{
						{ID: 1, Name: "Camelot Hills", XOffset: 0, YOffset: 0},
						{ID: 2, Name: "Black Mountains South", XOffset: 65536, YOffset: 0},
					},
				},
			},
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				GeneralHealthInterval: 60,
				LagCheckInterval:      120,
				HeartbeatInterval:     60,
				JournalPruneInterval:  3600,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Driver:        "sqlite",
				DSN:           "data/journal.db",
				RetentionDays: 14,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "realmcore",
			},
			MQTT: MQTTConfig{
				BrokerURL: "localhost",
				Port:      1883,
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
				AuthDisabled: true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file and applies environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option known to this build.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	// Environment overrides are applied after the re-save so they never leak into the file.
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Region returns the configuration of a region by id.
func (c *Config) Region(id uint16) (RegionConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.ServerData.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return RegionConfig{}, false
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
