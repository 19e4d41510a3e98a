package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerData(&cfg.ServerData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	validatePort(data.GamePort, "server_data.game_port", result)
	validatePort(data.APIPort, "server_data.api_port", result)
	if data.GamePort == data.APIPort {
		result.AddError("server_data.ports", "port conflict detected: game and api ports must differ")
	}

	if data.BindAddress != "" && net.ParseIP(data.BindAddress) == nil {
		result.AddError("server_data.bind_address", fmt.Sprintf("invalid bind address: %s", data.BindAddress))
	}

	if data.TickIntervalMs < 10 {
		result.AddError("server_data.tick_interval_ms", "tick interval must be at least 10ms")
	} else if data.TickIntervalMs > 1000 {
		result.AddWarning("server_data.tick_interval_ms",
			fmt.Sprintf("tick interval of %dms will make actions feel sluggish", data.TickIntervalMs))
	}

	if data.LongTickThresholdMs > 0 && data.LongTickThresholdMs < data.TickIntervalMs {
		result.AddWarning("server_data.long_tick_threshold_ms",
			"long tick threshold below the tick interval will flag every tick")
	}

	if data.VisibilityRadius <= 0 {
		result.AddError("server_data.visibility_radius", "visibility radius must be positive")
	}

	if data.ConcentrationCapacity < 0 {
		result.AddError("server_data.concentration_capacity", "concentration capacity cannot be negative")
	}

	if data.MaxSessions < 1 {
		result.AddError("server_data.max_sessions", "must allow at least 1 session")
	}
	if data.MaxSessions > 65534 {
		result.AddError("server_data.max_sessions", "cannot exceed the 16-bit session token space")
	}

	if data.OutboundQueueSize < 1 {
		result.AddError("server_data.outbound_queue_size", "outbound queue must hold at least one frame")
	}

	validateRegions(data, result)
}

func validateRegions(data *ServerData, result *ValidationResult) {
	if len(data.Regions) == 0 {
		result.AddError("server_data.regions", "at least one region is required")
		return
	}

	regionIDs := make(map[uint16]bool, len(data.Regions))
	zoneIDs := make(map[uint16]bool)
	for i, r := range data.Regions {
		field := fmt.Sprintf("server_data.regions[%d]", i)
		if regionIDs[r.ID] {
			result.AddError(field+".id", fmt.Sprintf("duplicate region id %d", r.ID))
		}
		regionIDs[r.ID] = true

		if len(r.Zones) == 0 {
			result.AddWarning(field+".zones", "region has no zones, spell position corrections will be skipped")
		}
		for _, z := range r.Zones {
			if zoneIDs[z.ID] {
				result.AddError(field+".zones", fmt.Sprintf("duplicate zone id %d", z.ID))
			}
			zoneIDs[z.ID] = true
		}

		for j, a := range r.Areas {
			if a.Radius <= 0 {
				result.AddError(fmt.Sprintf("%s.areas[%d].radius", field, j), "area radius must be positive")
			}
		}
	}

	if !regionIDs[data.StartRegion] {
		result.AddError("server_data.start_region", fmt.Sprintf("start region %d is not configured", data.StartRegion))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.Timers.HeartbeatInterval > 0 && data.Timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval",
			"heartbeat interval less than 10s may cause excessive traffic")
	}

	if data.Journal.Enabled {
		switch data.Journal.Driver {
		case "sqlite", "postgres":
		default:
			result.AddError("application_data.journal.driver",
				fmt.Sprintf("unsupported journal driver %q (expected sqlite or postgres)", data.Journal.Driver))
		}
		if strings.TrimSpace(data.Journal.DSN) == "" {
			result.AddError("application_data.journal.dsn", "journal DSN is required when enabled")
		}
		if data.Journal.RetentionDays < 1 {
			result.AddError("application_data.journal.retention_days", "retention days must be at least 1")
		}
	}

	if data.Redis.Enabled && strings.TrimSpace(data.Redis.Address) == "" {
		result.AddError("application_data.redis.address", "redis address is required when enabled")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if !data.Security.AuthDisabled && strings.TrimSpace(data.Security.APIToken) == "" {
		result.AddError("application_data.security.api_token", "API token is required when auth is enabled")
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
