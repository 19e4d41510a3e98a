package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/realmcore/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "realmcore",
		"version": util.Version,
	})
}

// handleInfo returns basic server information.
func (s *Server) handleInfo(c *gin.Context) {
	sd := s.cfg.GetServerData()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"server_name":     sd.Name,
		"version":         util.Version,
		"game_port":       sd.GamePort,
		"regions":         len(sd.Regions),
		"sessions":        s.sessions.Count(),
		"max_sessions":    sd.MaxSessions,
		"tick_ms":         sd.TickIntervalMs,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
