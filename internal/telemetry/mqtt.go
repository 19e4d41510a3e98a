// Package telemetry publishes region heartbeats, combat summaries and lag
// alerts over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/region"
	"github.com/energizer-project/realmcore/internal/util"
)

var ErrDisabled = errors.New("MQTT is disabled")

// MQTT topics
const (
	TopicAdmin    = "realm/admin"
	TopicStatus   = "realm/status"
	TopicSessions = "realm/sessions"
	TopicCombat   = "realm/combat"
	TopicLag      = "realm/lag"
)

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// CombatSummary aggregates damage resolutions of one region between heartbeats.
type CombatSummary struct {
	Hits     int `json:"hits"`
	Misses   int `json:"misses"`
	Resists  int `json:"resists"`
	Damage   int `json:"damage"`
	Critical int `json:"critical"`
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	mu     sync.Mutex
	combat map[uint16]*CombatSummary

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher

	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := newHandler(cfg, eventBus, map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	})

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("realmcore-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client
	return h, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, metadata map[string]interface{}) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
		combat:   make(map[uint16]*CombatSummary),
	}
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventSessionOpened, "mqtt.sessionOpened", h.onSession)
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", h.onSession)
	h.eventBus.Subscribe(events.EventDamageDealt, "mqtt.damage", h.onDamage)
	h.eventBus.Subscribe(events.EventLongTick, "mqtt.longTick", h.onLongTick)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

// publish sends a JSON message to a topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if h.pub == nil || !h.pub.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onSession(_ context.Context, event events.Event) error {
	h.publish(TopicSessions, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// onDamage only aggregates; summaries go out with the heartbeat.
func (h *MQTTHandler) onDamage(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.DamagePayload)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.combat[p.RegionID]
	if !ok {
		s = &CombatSummary{}
		h.combat[p.RegionID] = s
	}
	switch p.Outcome {
	case "missed":
		s.Misses++
	case "resisted":
		s.Resists++
	default:
		s.Hits++
	}
	s.Damage += p.Damage
	s.Critical += p.Critical
	return nil
}

func (h *MQTTHandler) onLongTick(_ context.Context, event events.Event) error {
	h.publish(TopicLag, event.Payload)
	return nil
}

func (h *MQTTHandler) onNotify(_ context.Context, event events.Event) error {
	h.publish(TopicAdmin, event.Payload)
	return nil
}

// takeCombat returns and resets the per-region combat summaries.
func (h *MQTTHandler) takeCombat() map[uint16]*CombatSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.combat
	h.combat = make(map[uint16]*CombatSummary)
	return out
}

// PublishHeartbeat publishes the region snapshots and the combat summary
// gathered since the previous heartbeat.
func (h *MQTTHandler) PublishHeartbeat(sessions int, snaps []*region.Snapshot) {
	combat := h.takeCombat()
	h.publish(TopicStatus, map[string]interface{}{
		"event":    "heartbeat",
		"sessions": sessions,
		"regions":  snaps,
	})
	if len(combat) > 0 {
		h.publish(TopicCombat, combat)
	}
}

// PublishShutdown announces the shutdown to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
