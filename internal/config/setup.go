package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks an operator through the main settings and saves the
// result. Empty answers keep the current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "── realmcore setup ──")
	fmt.Fprintln(out, "Press enter to keep the value in brackets.")
	fmt.Fprintln(out)

	cfg.mu.Lock()
	sd := &cfg.ServerData
	sd.Name = p.str("Server name", sd.Name)
	sd.BindAddress = p.str("Bind address", sd.BindAddress)
	sd.GamePort = p.integer("Game port", sd.GamePort)
	sd.APIPort = p.integer("Monitoring API port", sd.APIPort)
	sd.TickIntervalMs = p.integer("Tick interval (ms)", sd.TickIntervalMs)
	sd.MaxSessions = p.integer("Max sessions", sd.MaxSessions)

	fmt.Fprintln(out)
	ad := &cfg.ApplicationData
	ad.Security.AuthDisabled = !p.boolean("Require an API token", !ad.Security.AuthDisabled)
	if !ad.Security.AuthDisabled {
		token := p.str("API token (blank generates one)", "")
		if token == "" && ad.Security.APIToken == "" {
			generated, err := GenerateToken()
			if err != nil {
				cfg.mu.Unlock()
				return err
			}
			token = generated
			fmt.Fprintf(out, "    Generated API token: %s\n", token)
		}
		if token != "" {
			ad.Security.APIToken = token
		}
	}

	ad.Journal.Enabled = p.boolean("Enable combat journal", ad.Journal.Enabled)
	if ad.Journal.Enabled {
		ad.Journal.Driver = p.str("Journal driver (sqlite/postgres)", ad.Journal.Driver)
		ad.Journal.DSN = p.str("Journal DSN", ad.Journal.DSN)
	}

	ad.MQTT.Enabled = p.boolean("Enable MQTT telemetry", ad.MQTT.Enabled)
	if ad.MQTT.Enabled {
		ad.MQTT.BrokerURL = p.str("MQTT broker host", ad.MQTT.BrokerURL)
		ad.MQTT.Port = p.integer("MQTT broker port", ad.MQTT.Port)
	}
	cfg.mu.Unlock()

	if result := Validate(cfg); !result.IsValid() {
		return fmt.Errorf("setup produced an invalid configuration: %v", result.Errors[0])
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	log.Info().Str("path", cfg.Path()).Msg("setup complete")
	return nil
}

// GenerateToken returns a random 32-character hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p prompter) line() string {
	input, _ := p.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (p prompter) str(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}
	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

func (p prompter) integer(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)
	input := p.line()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p prompter) boolean(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)
	input := strings.ToLower(p.line())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
