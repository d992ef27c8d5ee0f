// Package bridge implements the TCP session layer: the listener, the
// per-connection session objects, and the registry that fan-out writes go
// through. Protocol interpretation lives above this package; bridge only
// frames lines and moves bytes.
package bridge

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amm-sim/tcp-bridge/internal/debug"
)

const (
	// maxChunk bounds a single conn.Write so one slow client cannot pin
	// its session mutex for a full large payload.
	maxChunk = 8 * 1024

	writeTimeout = time.Second
)

// Session is one connected TCP client. Fields set during registration
// (Name, ClientType, KeepHistory) are guarded by mu; the connection
// itself is guarded by sendMu so concurrent fan-out writes interleave at
// line granularity.
type Session struct {
	ID          string
	UUID        string
	RemoteAddr  string
	ConnectedAt time.Time

	mu          sync.Mutex
	name        string
	clientType  string
	keepHistory bool

	conn      net.Conn
	sendMu    sync.Mutex
	closeOnce sync.Once

	// lastProcessed is the nanosecond timestamp of the last fully handled
	// inbound line, used for keepalive pacing and the idle sweep.
	lastProcessed atomic.Int64
}

func newSession(id, uuid string, conn net.Conn) *Session {
	s := &Session{
		ID:          id,
		UUID:        uuid,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		name:        "Client " + id,
		conn:        conn,
	}
	s.lastProcessed.Store(time.Now().UnixNano())
	return s
}

// Name returns the session's display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName updates the session's display name.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// ClientType returns the registered client type, "" before registration.
func (s *Session) ClientType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientType
}

// SetClientType records the client type sent during registration.
func (s *Session) SetClientType(t string) {
	s.mu.Lock()
	s.clientType = t
	s.mu.Unlock()
}

// KeepHistory reports whether the client asked for full history delivery.
func (s *Session) KeepHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepHistory
}

// SetKeepHistory records the client's history preference.
func (s *Session) SetKeepHistory(v bool) {
	s.mu.Lock()
	s.keepHistory = v
	s.mu.Unlock()
}

// Touch marks the session live after a processed inbound line.
func (s *Session) Touch() {
	s.lastProcessed.Store(time.Now().UnixNano())
}

// IdleSince reports how long ago the last inbound line was processed.
func (s *Session) IdleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastProcessed.Load()))
}

// SendLine writes one protocol line to the client, appending the newline
// terminator when absent. Large payloads are written in bounded chunks,
// each under a short deadline, so a stalled client fails fast instead of
// wedging the dispatcher.
func (s *Session) SendLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	data := []byte(line)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		if _, err := s.conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close tears down the connection. Safe to call from multiple goroutines;
// only the first call closes the socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			debug.Tracef("session %s close: %v", s.ID, err)
		}
	})
}
