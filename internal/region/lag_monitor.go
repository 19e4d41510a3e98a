package region

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/events"
)

const (
	// LagWarningThreshold is the number of long ticks per hour before warning.
	LagWarningThreshold = 10
	// LagCriticalThreshold is the number of long ticks per hour before notifying operators.
	LagCriticalThreshold = 30

	lagHistoryLimit = 1000
)

// LagMonitor aggregates long ticks per region, raises threshold alerts and
// provides the data behind the lag API endpoint.
type LagMonitor struct {
	mu       sync.RWMutex
	eventBus *events.EventBus
	now      func() time.Time

	regionData map[uint16]*RegionLagData

	warningThreshold  int
	criticalThreshold int
}

// RegionLagData holds long-tick tracking data for a single region.
type RegionLagData struct {
	RegionID       uint16      `json:"region_id"`
	TotalEvents    int         `json:"total_events"`
	EventsThisHour int         `json:"events_this_hour"`
	LastEventTime  time.Time   `json:"last_event_time"`
	MaxDuration    float64     `json:"max_duration_ms"`
	AvgDuration    float64     `json:"avg_duration_ms"`
	History        []LagEvent  `json:"history"`
	HourlyBuckets  map[int]int `json:"hourly_buckets"`
}

// LagEvent is a single long tick.
type LagEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Tick      uint64    `json:"tick"`
	Duration  float64   `json:"duration_ms"`
}

// LagAlert is a lag threshold alert.
type LagAlert struct {
	RegionID uint16 `json:"region_id"`
	Level    string `json:"level"`
	Events   int    `json:"events"`
	Message  string `json:"message"`
}

// NewLagMonitor creates a lag monitor subscribed to long-tick events.
func NewLagMonitor(eventBus *events.EventBus) *LagMonitor {
	lm := &LagMonitor{
		eventBus:          eventBus,
		now:               time.Now,
		regionData:        make(map[uint16]*RegionLagData),
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
	eventBus.Subscribe(events.EventLongTick, "lag_monitor", lm.handleLongTick)
	return lm
}

func (lm *LagMonitor) handleLongTick(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LongTickPayload)
	if !ok {
		return nil
	}
	lm.Record(payload)
	return nil
}

// Record adds one long tick to its region's data.
func (lm *LagMonitor) Record(p events.LongTickPayload) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	data, ok := lm.regionData[p.RegionID]
	if !ok {
		data = &RegionLagData{
			RegionID:      p.RegionID,
			History:       make([]LagEvent, 0, 100),
			HourlyBuckets: make(map[int]int),
		}
		lm.regionData[p.RegionID] = data
	}

	now := lm.now()
	ms := float64(p.Duration) / float64(time.Millisecond)
	data.TotalEvents++
	data.LastEventTime = now
	data.History = append(data.History, LagEvent{Timestamp: now, Tick: p.Tick, Duration: ms})
	if len(data.History) > lagHistoryLimit {
		data.History = data.History[len(data.History)-lagHistoryLimit:]
	}
	data.MaxDuration = max(data.MaxDuration, ms)

	var total float64
	for _, e := range data.History {
		total += e.Duration
	}
	data.AvgDuration = total / float64(len(data.History))
	data.HourlyBuckets[now.Hour()]++
	data.EventsThisHour = countSince(data.History, now.Add(-time.Hour))
}

func countSince(history []LagEvent, cutoff time.Time) int {
	n := 0
	for _, e := range history {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// RegionData returns a copy of the lag data for one region.
func (lm *LagMonitor) RegionData(regionID uint16) (*RegionLagData, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	data, ok := lm.regionData[regionID]
	if !ok {
		return nil, false
	}
	return data.clone(), true
}

// AllRegionData returns a copy of the lag data of every region that lagged.
func (lm *LagMonitor) AllRegionData() map[uint16]*RegionLagData {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	result := make(map[uint16]*RegionLagData, len(lm.regionData))
	for k, v := range lm.regionData {
		result[k] = v.clone()
	}
	return result
}

func (d *RegionLagData) clone() *RegionLagData {
	c := *d
	c.History = append([]LagEvent(nil), d.History...)
	c.HourlyBuckets = make(map[int]int, len(d.HourlyBuckets))
	for h, n := range d.HourlyBuckets {
		c.HourlyBuckets[h] = n
	}
	return &c
}

// CheckThresholds evaluates every region against the lag thresholds.
func (lm *LagMonitor) CheckThresholds() []LagAlert {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	cutoff := lm.now().Add(-time.Hour)
	var alerts []LagAlert
	for id, data := range lm.regionData {
		data.EventsThisHour = countSince(data.History, cutoff)
		level := ""
		switch {
		case data.EventsThisHour >= lm.criticalThreshold:
			level = "critical"
		case data.EventsThisHour >= lm.warningThreshold:
			level = "warning"
		default:
			continue
		}
		alerts = append(alerts, LagAlert{
			RegionID: id,
			Level:    level,
			Events:   data.EventsThisHour,
			Message:  fmt.Sprintf("Region %d: %d long ticks in the last hour", id, data.EventsThisHour),
		})
	}
	return alerts
}

// Alert evaluates the thresholds, logs every alert and forwards critical
// ones to MQTT. It returns the alerts raised.
func (lm *LagMonitor) Alert(ctx context.Context) []LagAlert {
	alerts := lm.CheckThresholds()
	for _, alert := range alerts {
		log.Warn().
			Uint16("region", alert.RegionID).
			Str("level", alert.Level).
			Int("events", alert.Events).
			Msg("lag threshold alert")

		if alert.Level == "critical" {
			lm.eventBus.Emit(ctx, events.Event{
				Type:   events.EventNotifyMQTT,
				Source: fmt.Sprintf("lag_monitor:%d", alert.RegionID),
				Payload: events.NotifyPayload{
					Title:   "Lag Alert - Critical",
					Message: alert.Message,
					Level:   "error",
				},
			})
		}
	}
	return alerts
}
