package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/db"
	"github.com/energizer-project/realmcore/internal/events"
	intnet "github.com/energizer-project/realmcore/internal/network"
	"github.com/energizer-project/realmcore/internal/region"
	"github.com/energizer-project/realmcore/internal/util"
)

// Regions is the region runtime as seen by the API.
type Regions interface {
	Snapshot(regionID uint16, withActors bool) (*region.Snapshot, error)
	Snapshots() []*region.Snapshot
	Effects(regionID uint16, actorID uint32) (*region.EffectList, error)
}

// Sessions lists connected game sessions.
type Sessions interface {
	Infos() []intnet.SessionInfo
	Count() int
}

// LagSource reports per-region long tick statistics.
type LagSource interface {
	AllRegionData() map[uint16]*region.RegionLagData
}

// CombatLog reads the combat and security journal.
type CombatLog interface {
	RecentCombat(ctx context.Context, limit int) ([]db.CombatEntry, error)
	RecentSecurity(ctx context.Context, limit int) ([]db.SecurityEntry, error)
}

// Server is the monitoring REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus

	regions  Regions
	sessions Sessions
	lag      LagSource
	journal  CombatLog
	stream   *streamHub

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and registers its event stream on the bus.
// journal may be nil when the journal is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, regions Regions, sessions Sessions, lag LagSource, journal CombatLog) *Server {
	if cfg.ApplicationData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		regions:  regions,
		sessions: sessions,
		lag:      lag,
		journal:  journal,
		stream:   newStreamHub(),
	}
	s.stream.subscribe(eventBus)
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured API port and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	sd := s.cfg.GetServerData()
	addr := net.JoinHostPort(sd.BindAddress, strconv.Itoa(sd.APIPort))
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	security := s.cfg.ApplicationData.Security
	if security.TLSEnabled {
		if _, err := util.EnsureCertificate(security.TLSCertFile, security.TLSKeyFile, []string{"localhost", "127.0.0.1"}); err != nil {
			return fmt.Errorf("failed to prepare API TLS certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(security.TLSCertFile, security.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.ApplicationData.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false while AllowOrigins may be "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.ApplicationData.Security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	auth := NewAuthMiddleware(s.cfg.ApplicationData.Security)
	monitor := router.Group("/api/monitor")
	monitor.Use(auth.RequireAuth())
	{
		monitor.GET("/regions", s.handleRegions)
		monitor.GET("/regions/:id", s.handleRegion)
		monitor.GET("/regions/:id/actors/:actor/effects", s.handleEffects)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/lag", s.handleLag)
		monitor.GET("/system", s.handleSystem)
		monitor.GET("/combat", s.handleCombat)
		monitor.GET("/security", s.handleSecurity)
		monitor.GET("/logs", s.handleLogEntries)
		monitor.GET("/stream", s.handleStream)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "realmcore monitoring API is running"})
	})

	return router
}

// Stop gracefully stops the API server and closes stream clients.
func (s *Server) Stop() error {
	s.stream.unsubscribe(s.eventBus)
	s.stream.closeAll()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
