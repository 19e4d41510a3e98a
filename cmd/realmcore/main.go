// realmcore is a region simulation server: it accepts game clients over TCP,
// runs every region on its own tick loop and exposes monitoring over REST,
// MQTT and an operator console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/api"
	"github.com/energizer-project/realmcore/internal/catalog"
	"github.com/energizer-project/realmcore/internal/cli"
	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/cooldown"
	"github.com/energizer-project/realmcore/internal/db"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/health"
	"github.com/energizer-project/realmcore/internal/network"
	"github.com/energizer-project/realmcore/internal/region"
	"github.com/energizer-project/realmcore/internal/telemetry"
	"github.com/energizer-project/realmcore/internal/util"
)

const Banner = `
                 _                              
  _ __ ___  __ _| |_ __ ___   ___ ___  _ __ ___ 
 | '__/ _ \/ _' | | '_ ' _ \ / __/ _ \| '__/ _ \
 | | |  __/ (_| | | | | | | | (_| (_) | | |  __/
 |_|  \___|\__,_|_|_| |_| |_|\___\___/|_|  \___|
                                          v%s
`

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the interactive setup before starting")
	noConsole := flag.Bool("no-console", false, "disable the interactive operator console")
	flag.Parse()

	fmt.Printf(Banner, util.Version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting realmcore")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup failed")
		}
	}

	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above or run with -setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverData := cfg.GetServerData()
	eventBus := events.NewEventBus()

	cat := catalog.Default()
	if serverData.CatalogFile != "" {
		cat, err = catalog.Load(serverData.CatalogFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", serverData.CatalogFile).Msg("failed to load skill catalog")
		}
	}
	skillCount, spellCount := cat.Counts()
	log.Info().Int("skills", skillCount).Int("spells", spellCount).Msg("skill catalog ready")

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Cooldown mirror is optional: without redis, timers live in memory only.
	var mirror *cooldown.RedisMirror
	if appData.Redis.Enabled {
		r := appData.Redis
		mirror, err = cooldown.NewRedisMirror(ctx, r.Address, r.Password, r.DB, r.KeyPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, cooldowns will not survive relog")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mirror.Run(ctx)
			}()
		}
	}
	var cooldowns *cooldown.Tracker
	if mirror != nil {
		cooldowns = cooldown.NewTracker(mirror)
	} else {
		cooldowns = cooldown.NewTracker(nil)
	}

	var journal *db.Journal
	if appData.Journal.Enabled {
		journal, err = db.OpenJournal(ctx, appData.Journal)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open journal, combat history disabled")
		} else {
			journal.Subscribe(eventBus)
		}
	}

	sessions := network.NewSessionRegistry(serverData.MaxSessions, serverData.OutboundQueueSize)

	runner, err := region.NewRunner(serverData.Regions, region.SettingsFromConfig(serverData), region.Deps{
		Catalog:   cat,
		Cooldowns: cooldowns,
		Sender:    sessions,
		Bus:       eventBus,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start regions")
	}
	runner.Start(ctx)

	lagMonitor := region.NewLagMonitor(eventBus)

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	var combatLog api.CombatLog
	healthDeps := health.Deps{
		Sessions:  sessions,
		Lag:       lagMonitor,
		Cooldowns: cooldowns,
		Regions:   runner,
	}
	if journal != nil {
		combatLog = journal
		healthDeps.Journal = journal
	}
	if mqttHandler != nil {
		healthDeps.Heartbeat = mqttHandler
	}

	tcpListener := network.NewTCPListener(serverData, eventBus, sessions, runner)
	statusProbe := network.NewStatusProbeListener(serverData, sessions)
	apiServer := api.NewServer(cfg, eventBus, runner, sessions, lagMonitor, combatLog)
	healthMgr := health.NewManager(cfg, healthDeps)

	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		select {
		case errCh <- errShutdownRequested:
		default:
		}
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", serverData.GamePort).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", tcpListener.Start, 5); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "status probe", statusProbe.Start, 5); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("status probe failed (non-fatal)")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if !*noConsole {
		console := cli.NewCLI(eventBus, runner, sessions, lagMonitor, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		if errors.Is(err, errShutdownRequested) {
			log.Info().Msg("shutdown requested from console")
		} else {
			log.Error().Err(err).Msg("critical error, initiating shutdown")
		}
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	tcpListener.Stop()
	statusProbe.Stop()
	apiServer.Stop()
	sessions.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	runner.Stop()
	eventBus.Stop()

	if mirror != nil {
		mirror.Close()
	}
	if journal != nil {
		journal.Close()
	}

	log.Info().Msg("realmcore stopped")
}

var errShutdownRequested = errors.New("shutdown requested")

// startWithRetry attempts to start a listener/server with retry on bind errors.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
