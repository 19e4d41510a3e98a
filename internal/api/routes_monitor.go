package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/realmcore/internal/region"
	"github.com/energizer-project/realmcore/internal/util"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleRegions(c *gin.Context) {
	snaps := s.regions.Snapshots()
	c.JSON(http.StatusOK, gin.H{
		"regions": snaps,
		"total":   len(snaps),
	})
}

// handleRegion returns one region snapshot; ?actors=true adds the actor list.
func (s *Server) handleRegion(c *gin.Context) {
	id, ok := parseRegionID(c)
	if !ok {
		return
	}
	withActors, _ := strconv.ParseBool(c.DefaultQuery("actors", "false"))

	snap, err := s.regions.Snapshot(id, withActors)
	if err != nil {
		writeRegionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleEffects(c *gin.Context) {
	id, ok := parseRegionID(c)
	if !ok {
		return
	}
	actorID, err := strconv.ParseUint(c.Param("actor"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
		return
	}

	list, err := s.regions.Effects(id, uint32(actorID))
	if err != nil {
		writeRegionError(c, err)
		return
	}
	if !list.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleSessions(c *gin.Context) {
	infos := s.sessions.Infos()
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleLag(c *gin.Context) {
	data := s.lag.AllRegionData()
	ids := make([]int, 0, len(data))
	for id := range data {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]*region.RegionLagData, 0, len(ids))
	for _, id := range ids {
		out = append(out, data[uint16(id)])
	}
	c.JSON(http.StatusOK, gin.H{"regions": out})
}

// handleSystem returns host and process resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	cpuPct, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	proc, err := util.GetProcessStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": cpuPct,
		"memory":      mem,
		"process":     proc,
	})
}

func (s *Server) handleCombat(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	entries, err := s.journal.RecentCombat(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleSecurity(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	entries, err := s.journal.RecentSecurity(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// handleLogEntries returns recent log entries.
func (s *Server) handleLogEntries(c *gin.Context) {
	logDir := s.cfg.ApplicationData.Logging.Directory
	entries, err := readRecentLogEntries(logDir, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseRegionID(c *gin.Context) (uint16, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid region id"})
		return 0, false
	}
	return uint16(id), true
}

func writeRegionError(c *gin.Context, err error) {
	if errors.Is(err, region.ErrUnknownRegion) {
		c.JSON(http.StatusNotFound, gin.H{"error": "region not found"})
		return
	}
	c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
}

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || n < 1 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries reads and parses the most recent log entries from log files.
// Zerolog writes JSON lines; we parse them into structured objects for the dashboard.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	if len(dirEntries) == 0 {
		return []logEntry{}, nil
	}

	// Find the most recent log file
	var latestFile string
	for i := len(dirEntries) - 1; i >= 0; i-- {
		if !dirEntries[i].IsDir() && filepath.Ext(dirEntries[i].Name()) == ".log" {
			latestFile = filepath.Join(logDir, dirEntries[i].Name())
			break
		}
	}

	if latestFile == "" {
		return []logEntry{}, nil
	}

	// Read file content
	data, err := os.ReadFile(latestFile)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")

	// Take last N lines
	start := len(lines) - count
	if start < 0 {
		start = 0
	}

	// Known zerolog internal fields to exclude from "fields"
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Parse the JSON line
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			// Not valid JSON, include as a plain message
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}

		// Parse timestamp (zerolog uses "time" field)
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		// Collect remaining fields
		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
