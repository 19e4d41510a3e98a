package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/protocol"
	"github.com/energizer-project/realmcore/internal/region"
)

// DefaultMaxConnPerSec bounds new connections per second from one address.
const DefaultMaxConnPerSec = 10

// helloTimeout bounds the wait for a connection's opening hello frame.
const helloTimeout = 10 * time.Second

// MsgNameInUse answers a hello claiming a name another session plays.
const MsgNameInUse = "That character is already playing."

// Router hands sessions and their requests to regions.
type Router interface {
	Join(regionID uint16, j region.Join) (uint32, error)
	Leave(regionID uint16, actorID uint32, reason string)
	Dispatch(regionID uint16, token uint16, actorID uint32, req protocol.ActionRequest) error
}

// TCPListener accepts game clients, assigns their sessions and runs their
// read loops.
type TCPListener struct {
	cfg      config.ServerData
	eventBus *events.EventBus
	sessions *SessionRegistry
	router   Router
	limiter  *rateTracker
	listener net.Listener
}

// NewTCPListener creates a new game listener.
func NewTCPListener(cfg config.ServerData, eventBus *events.EventBus, sessions *SessionRegistry, router Router) *TCPListener {
	return &TCPListener{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		router:   router,
		limiter:  newRateTracker(DefaultMaxConnPerSec),
	}
}

// Start listens on the game port and accepts connections until ctx is done.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.BindAddress, fmt.Sprint(l.cfg.GamePort))

	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}
	l.listener = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("game listener started")

	return l.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done.
func (l *TCPListener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("game listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		if src := extractIP(conn.RemoteAddr()); !l.limiter.allow(src) {
			log.Warn().Str("src", src).Msg("connection rate limit exceeded, dropping connection")
			conn.Close()
			continue
		}

		go l.handleConnection(ctx, conn)
	}
}

// handleConnection owns one client connection for its whole life: token
// assignment, region join, the read loop and the final cleanup.
func (l *TCPListener) handleConnection(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s, err := l.sessions.Open(conn)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("rejecting connection")
		conn.Close()
		return
	}
	token := s.Token()
	defer l.sessions.Remove(token)

	logger := log.With().
		Str("component", "tcp_handler").
		Uint16("session", token).
		Str("remote", remote).
		Logger()

	name, err := l.awaitHello(s)
	if err != nil {
		logger.Info().Err(err).Msg("handshake failed")
		return
	}
	if err := l.sessions.Claim(token, name); err != nil {
		logger.Info().Err(err).Str("name", name).Msg("name refused")
		if err := s.Refuse(MsgNameInUse); err != nil {
			logger.Debug().Err(err).Msg("failed to send refusal")
		}
		return
	}

	regionID := l.cfg.StartRegion
	actorID, err := l.router.Join(regionID, region.Join{
		Token: token,
		Name:  name,
		Level: 1,
		Live:  func() bool { return !s.Closed() },
	})
	if err != nil {
		logger.Error().Err(err).Uint16("region", regionID).Msg("failed to join start region")
		return
	}
	s.Attach(regionID, actorID)
	logger.Info().Uint32("actor", actorID).Uint16("region", regionID).Str("name", name).Msg("session opened")

	l.emit(ctx, events.EventSessionOpened, events.SessionPayload{
		Token: token, ActorID: actorID, RegionID: regionID, RemoteAddr: remote,
	})

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
	}()

	reason := l.readLoop(s)
	l.router.Leave(regionID, actorID, reason)
	logger.Info().Str("reason", reason).Msg("session closed")
	l.emit(ctx, events.EventSessionClosed, events.SessionPayload{
		Token: token, ActorID: actorID, RegionID: regionID, RemoteAddr: remote, Reason: reason,
	})
}

// awaitHello reads the opening frame, which must claim a valid name.
func (l *TCPListener) awaitHello(s *Session) (string, error) {
	defer s.conn.SetReadDeadline(time.Time{})

	pkt, err := s.ReadPacket(helloTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to read hello: %w", err)
	}
	if pkt.Command != protocol.OpHello {
		return "", fmt.Errorf("%w: expected hello, got 0x%02X", protocol.ErrUnknownOpcode, pkt.Command)
	}
	h, err := protocol.DecodeHello(pkt.Payload)
	if err != nil {
		return "", err
	}
	return h.Name, nil
}

func (l *TCPListener) readLoop(s *Session) string {
	idle := time.Duration(l.cfg.SessionIdleTimeout) * time.Second
	for {
		pkt, err := s.ReadPacket(idle)
		if err != nil {
			var netErr net.Error
			switch {
			case s.Closed():
				return "closed"
			case errors.As(err, &netErr) && netErr.Timeout():
				return "idle timeout"
			case errors.Is(err, io.EOF):
				return "disconnect"
			default:
				log.Debug().Err(err).Uint16("session", s.Token()).Msg("read error")
				return "read error"
			}
		}

		req, err := protocol.Decode(pkt.Command, pkt.Payload, s.Token())
		if err != nil {
			if errors.Is(err, protocol.ErrSessionMismatch) {
				declared, _ := protocol.DeclaredToken(pkt.Payload)
				l.emit(context.Background(), events.EventSessionMismatch, events.SessionMismatchPayload{
					RemoteAddr:    s.RemoteAddr().String(),
					ExpectedToken: s.Token(),
					DeclaredToken: declared,
					Opcode:        pkt.Command,
				})
				continue
			}
			log.Debug().Err(err).Uint16("session", s.Token()).Msg("dropping frame")
			continue
		}

		if err := l.router.Dispatch(s.RegionID(), s.Token(), s.ActorID(), req); err != nil {
			log.Warn().Err(err).Uint16("session", s.Token()).Msg("failed to dispatch request")
		}
	}
}

func (l *TCPListener) emit(ctx context.Context, t events.EventType, payload any) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Emit(ctx, events.Event{Type: t, Source: "network", Payload: payload})
}

// Addr returns the listening address once started.
func (l *TCPListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the listener. Open sessions are closed by the caller through
// the session registry.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
