// Package network implements the game listener, client sessions and the UDP
// status probe.
package network

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/protocol"
)

var (
	ErrServerFull      = errors.New("server full")
	ErrNameInUse       = errors.New("name already in use")
	ErrSessionNotFound = errors.New("session not found")
)

const writeTimeout = 10 * time.Second

type outFrame struct {
	opcode byte
	body   []byte
}

// Session is one connected client. Reads happen on the connection's own
// goroutine; writes go through a buffered queue drained by a writer
// goroutine, so Send never blocks.
type Session struct {
	token  uint16
	conn   net.Conn
	out    chan outFrame
	done   chan struct{}
	logger zerolog.Logger

	regionID atomic.Uint32
	actorID  atomic.Uint32
	dropped  atomic.Uint64

	mu           sync.Mutex
	name         string
	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
}

// SessionInfo is a point-in-time description of a session.
type SessionInfo struct {
	Token        uint16    `json:"token"`
	Name         string    `json:"name"`
	ActorID      uint32    `json:"actor_id"`
	RegionID     uint16    `json:"region_id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Queued       int       `json:"queued"`
	Dropped      uint64    `json:"dropped"`
}

func newSession(token uint16, conn net.Conn, queueSize int) *Session {
	now := time.Now()
	return &Session{
		token:        token,
		conn:         conn,
		out:          make(chan outFrame, max(queueSize, 1)),
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "session").
			Uint16("session", token).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Token returns the session token assigned at connect.
func (s *Session) Token() uint16 { return s.token }

// Attach records the actor the session controls.
func (s *Session) Attach(regionID uint16, actorID uint32) {
	s.regionID.Store(uint32(regionID))
	s.actorID.Store(actorID)
}

// ActorID returns the attached actor id, zero before Attach.
func (s *Session) ActorID() uint32 { return s.actorID.Load() }

// RegionID returns the attached region id.
func (s *Session) RegionID() uint16 { return uint16(s.regionID.Load()) }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues a frame. A closed session or a full queue drops it.
func (s *Session) Send(opcode byte, body []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- outFrame{opcode: opcode, body: body}:
		return true
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn().Uint64("dropped", n).Msg("outbound queue full, dropping frame")
		}
		return false
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := protocol.WritePacket(s.conn, f.opcode, f.body); err != nil {
				s.logger.Debug().Err(err).Msg("write failed, closing session")
				s.Close()
				return
			}
			s.touch()
		}
	}
}

// Name returns the claimed character name, empty before the hello.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Refuse writes a message straight to the connection. It is used before
// the session joins a region, while the writer queue is still empty.
func (s *Session) Refuse(text string) error {
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return protocol.WritePacket(s.conn, protocol.OpMessage, protocol.BuildMessage(s.token, protocol.MsgSystem, text))
}

// ReadPacket reads one frame, waiting at most timeout when it is positive.
func (s *Session) ReadPacket(timeout time.Duration) (protocol.Packet, error) {
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	p, err := protocol.ReadPacket(s.conn)
	if err != nil {
		return protocol.Packet{}, err
	}
	s.touch()
	return p, nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Close invalidates the session and closes its connection. Only the first
// call has an effect.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.logger.Debug().Msg("session closed")
	return s.conn.Close()
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActivity returns the time of the last read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// RemoteAddr returns the remote address of the connection.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Info describes the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Token:        s.token,
		Name:         s.name,
		ActorID:      s.ActorID(),
		RegionID:     s.RegionID(),
		RemoteAddr:   s.conn.RemoteAddr().String(),
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
		Queued:       len(s.out),
		Dropped:      s.dropped.Load(),
	}
}

// SessionRegistry assigns session tokens and tracks open sessions. It is
// the broadcast sender of every region.
type SessionRegistry struct {
	mu        sync.RWMutex
	sessions  map[uint16]*Session
	names     map[string]uint16
	last      uint16
	max       int
	queueSize int
}

// NewSessionRegistry creates a registry holding at most maxSessions
// sessions, each with an outbound queue of queueSize frames.
func NewSessionRegistry(maxSessions, queueSize int) *SessionRegistry {
	if maxSessions <= 0 || maxSessions > 65535 {
		maxSessions = 65535
	}
	return &SessionRegistry{
		sessions:  make(map[uint16]*Session),
		names:     make(map[string]uint16),
		max:       maxSessions,
		queueSize: queueSize,
	}
}

// Open assigns the next free token to conn and starts its writer.
// Tokens increase monotonically and wrap past 65535, skipping zero and
// tokens still in use.
func (r *SessionRegistry) Open(conn net.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return nil, fmt.Errorf("%d sessions open: %w", len(r.sessions), ErrServerFull)
	}
	token := r.last
	for {
		token++
		if token == 0 {
			continue
		}
		if _, used := r.sessions[token]; !used {
			break
		}
	}
	r.last = token

	s := newSession(token, conn, r.queueSize)
	r.sessions[token] = s
	go s.writeLoop()
	log.Debug().Uint16("session", token).Msg("session registered")
	return s, nil
}

// Claim binds a character name to an open session. Names are unique among
// open sessions, ignoring case, and are released when the session goes.
func (r *SessionRegistry) Claim(token uint16, name string) error {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return fmt.Errorf("session %d: %w", token, ErrSessionNotFound)
	}
	if owner, taken := r.names[key]; taken && owner != token {
		return fmt.Errorf("%q held by session %d: %w", name, owner, ErrNameInUse)
	}
	r.names[key] = token

	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

// Remove closes and forgets a session and releases its name.
func (r *SessionRegistry) Remove(token uint16) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	delete(r.sessions, token)
	if ok {
		key := strings.ToLower(s.Name())
		if owner, held := r.names[key]; held && owner == token {
			delete(r.names, key)
		}
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		log.Debug().Uint16("session", token).Msg("session unregistered")
	}
}

// Get returns the session with the given token.
func (r *SessionRegistry) Get(token uint16) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	return s, ok
}

// Send queues a frame for the session with the given token. Unknown tokens
// are ignored.
func (r *SessionRegistry) Send(token uint16, opcode byte, body []byte) {
	if s, ok := r.Get(token); ok {
		s.Send(opcode, body)
	}
}

// Kick closes a session. Its read loop then performs the usual cleanup.
func (r *SessionRegistry) Kick(token uint16) bool {
	s, ok := r.Get(token)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// All returns the open sessions ordered by token.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return int(a.token) - int(b.token) })
	return out
}

// Infos describes every open session.
func (r *SessionRegistry) Infos() []SessionInfo {
	all := r.All()
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of open sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *SessionRegistry) CloseAll() {
	for _, s := range r.All() {
		s.Close()
	}
	log.Info().Msg("all sessions closed")
}

// CleanStale closes sessions inactive for longer than timeout and returns
// how many were closed.
func (r *SessionRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for _, s := range r.All() {
		if last := s.LastActivity(); last.Before(cutoff) {
			s.Close()
			cleaned++
			log.Warn().
				Uint16("session", s.token).
				Time("last_activity", last).
				Msg("closed stale session")
		}
	}
	return cleaned
}
