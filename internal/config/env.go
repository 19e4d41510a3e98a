package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that may be supplied through the environment.
// Zero values mean "not set" and leave the file configuration untouched.
type envOverrides struct {
	Name           string `env:"REALMCORE_NAME"`
	BindAddress    string `env:"REALMCORE_BIND_ADDRESS"`
	GamePort       int    `env:"REALMCORE_GAME_PORT"`
	APIPort        int    `env:"REALMCORE_API_PORT"`
	TickIntervalMs int    `env:"REALMCORE_TICK_INTERVAL_MS"`
	MaxSessions    int    `env:"REALMCORE_MAX_SESSIONS"`
	CatalogFile    string `env:"REALMCORE_CATALOG_FILE"`

	LogLevel string `env:"REALMCORE_LOG_LEVEL"`

	JournalDriver string `env:"REALMCORE_JOURNAL_DRIVER"`
	JournalDSN    string `env:"REALMCORE_JOURNAL_DSN"`

	RedisAddr     string `env:"REALMCORE_REDIS_ADDR"`
	RedisPassword string `env:"REALMCORE_REDIS_PASSWORD"`

	MQTTBroker string `env:"REALMCORE_MQTT_BROKER"`
	APIToken   string `env:"REALMCORE_API_TOKEN"`
}

// ParseEnv parses environment variables into the target struct.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := ParseEnv(&o); err != nil {
		return err
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	sd := &cfg.ServerData
	setString(&sd.Name, o.Name)
	setString(&sd.BindAddress, o.BindAddress)
	setInt(&sd.GamePort, o.GamePort)
	setInt(&sd.APIPort, o.APIPort)
	setInt(&sd.TickIntervalMs, o.TickIntervalMs)
	setInt(&sd.MaxSessions, o.MaxSessions)
	setString(&sd.CatalogFile, o.CatalogFile)

	ad := &cfg.ApplicationData
	setString(&ad.Logging.Level, o.LogLevel)
	setString(&ad.Journal.Driver, o.JournalDriver)
	setString(&ad.Journal.DSN, o.JournalDSN)
	if o.RedisAddr != "" {
		ad.Redis.Address = o.RedisAddr
		ad.Redis.Enabled = true
	}
	setString(&ad.Redis.Password, o.RedisPassword)
	if o.MQTTBroker != "" {
		ad.MQTT.BrokerURL = o.MQTTBroker
		ad.MQTT.Enabled = true
	}
	if o.APIToken != "" {
		ad.Security.APIToken = o.APIToken
		ad.Security.AuthDisabled = false
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
