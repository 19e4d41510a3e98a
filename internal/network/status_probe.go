package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/protocol"
)

// maxProbesPerSec bounds status replies per second to one address.
const maxProbesPerSec = 20

// Population reports the figures a status reply carries.
type Population interface {
	Count() int
}

// StatusProbeListener answers UDP status probes so clients can list the
// server and measure latency before connecting. It listens on the port
// right above the game port.
type StatusProbeListener struct {
	cfg      config.ServerData
	sessions Population
	limiter  *rateTracker
	conn     net.PacketConn
}

// NewStatusProbeListener creates a status probe listener.
func NewStatusProbeListener(cfg config.ServerData, sessions Population) *StatusProbeListener {
	return &StatusProbeListener{
		cfg:      cfg,
		sessions: sessions,
		limiter:  newRateTracker(maxProbesPerSec),
	}
}

// Port returns the UDP port the listener binds.
func (l *StatusProbeListener) Port() int {
	return l.cfg.GamePort + 1
}

// Start listens for probes until ctx is done.
func (l *StatusProbeListener) Start(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.BindAddress, fmt.Sprint(l.Port()))
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to start status probe listener on %s: %w", addr, err)
	}
	l.conn = pc
	log.Info().Str("addr", pc.LocalAddr().String()).Msg("status probe listener started")
	return l.Serve(ctx, pc)
}

// Serve answers probes read from pc until ctx is done.
func (l *StatusProbeListener) Serve(ctx context.Context, pc net.PacketConn) error {
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("status probe listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("UDP read error")
				return err
			}
		}
		if n < 1 || buf[0] != protocol.StatusProbeMagic {
			continue
		}
		if !l.limiter.allow(extractIP(remote)) {
			continue
		}

		reply := protocol.BuildStatusReply(
			l.cfg.Name,
			uint16(min(l.sessions.Count(), 65535)),
			uint16(len(l.cfg.Regions)),
		)
		pc.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := pc.WriteTo(reply, remote); err != nil {
			log.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send status reply")
			continue
		}
		log.Trace().Str("remote", remote.String()).Msg("answered status probe")
	}
}

// Stop closes the listener.
func (l *StatusProbeListener) Stop() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
