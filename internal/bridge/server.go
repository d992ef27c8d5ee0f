package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	dbg "github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/telemetry"
)

const (
	defaultMaxSessions = 30

	// keepAliveInterval paces the [KEEPALIVE] lines the server emits so
	// idle clients can tell the link from a dead peer.
	keepAliveInterval = 30 * time.Second

	// idleTimeout disconnects sessions that have not produced a processed
	// line for this long.
	idleTimeout = 10 * time.Minute

	keepAliveLine = "[KEEPALIVE]\n"
)

// Handler processes one inbound protocol line from a session.
type Handler func(s *Session, line string)

// Config carries the server's tunables. Zero values select defaults.
type Config struct {
	Addr        string
	MaxSessions int

	// KeepAliveInterval paces keepalive emission and the idle check.
	KeepAliveInterval time.Duration

	// Handler receives every non-empty inbound line.
	Handler Handler

	// OnConnect runs once per session after registration, before the
	// first line is read.
	OnConnect func(s *Session)

	// OnDisconnect runs after a session has been closed and removed from
	// the registry.
	OnDisconnect func(s *Session)
}

// Server owns the TCP listener and the session lifecycle. Protocol
// handling is delegated to the configured Handler.
type Server struct {
	cfg      Config
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	stopped  bool

	stopOnce     sync.Once
	shutdownChan chan struct{}

	connSem chan struct{}
	wg      sync.WaitGroup
}

// NewServer builds a server around an existing registry so the routing
// layer shares the same session view.
func NewServer(cfg Config, registry *Registry) *Server {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	cfg.MaxSessions = maxSessions
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = keepAliveInterval
	}
	return &Server{
		cfg:          cfg,
		registry:     registry,
		shutdownChan: make(chan struct{}),
		connSem:      make(chan struct{}, maxSessions),
	}
}

// Registry exposes the session registry backing this server.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// ListenAndServe binds the configured address and accepts sessions until
// ctx is cancelled or Shutdown is called.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{
		KeepAlive: 60 * time.Second,
	}
	ln, err := lc.Listen(ctx, "tcp", srv.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.cfg.Addr, err)
	}

	srv.mu.Lock()
	if srv.stopped {
		srv.mu.Unlock()
		ln.Close()
		return errors.New("server already stopped")
	}
	srv.listener = ln
	srv.mu.Unlock()

	dbg.Infof("listening on %s", ln.Addr())

	go func() {
		select {
		case <-ctx.Done():
			srv.Shutdown()
		case <-srv.shutdownChan:
		}
	}()

	return srv.acceptLoop(ln)
}

// Addr returns the bound listener address, or "" before ListenAndServe.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

func (srv *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-srv.shutdownChan:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case srv.connSem <- struct{}{}:
		default:
			dbg.Warnf("session limit %d reached, refusing %s", srv.cfg.MaxSessions, conn.RemoteAddr())
			conn.Close()
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		srv.wg.Add(1)
		go srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	defer srv.wg.Done()
	defer func() { <-srv.connSem }()

	sess := newSession(srv.registry.newID(), amm.GenerateUUID(), conn)
	srv.registry.add(sess)
	telemetry.SessionOpened(context.Background())
	dbg.Infof("session %s connected from %s", sess.ID, sess.RemoteAddr)

	stopKeepAlive := make(chan struct{})

	// Cleanup runs on this deferred frame so a panicking handler tears the
	// session down the same way a read error does.
	defer func() {
		if r := recover(); r != nil {
			dbg.Errorf("panic in session handler: %v\n%s", r, debug.Stack())
		}
		close(stopKeepAlive)
		sess.Close()
		srv.registry.Remove(sess.ID)
		telemetry.SessionClosed(context.Background())
		dbg.Infof("session %s disconnected", sess.ID)
		if srv.cfg.OnDisconnect != nil {
			srv.cfg.OnDisconnect(sess)
		}
	}()

	if srv.cfg.OnConnect != nil {
		srv.cfg.OnConnect(sess)
	}
	go srv.keepAliveLoop(sess, stopKeepAlive)

	srv.readLoop(sess)
}

// keepAliveLoop emits keepalive lines on quiet sessions and enforces the
// idle timeout. A session that keeps sending gets no keepalives.
func (srv *Server) keepAliveLoop(sess *Session, stop <-chan struct{}) {
	ticker := time.NewTicker(srv.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-srv.shutdownChan:
			return
		case <-ticker.C:
			idle := sess.IdleSince()
			if idle > idleTimeout {
				dbg.Warnf("session %s idle for %v, disconnecting", sess.ID, idleTimeout)
				sess.Close()
				return
			}
			if idle < srv.cfg.KeepAliveInterval {
				continue
			}
			if err := sess.SendLine(keepAliveLine); err != nil {
				sess.Close()
				return
			}
		}
	}
}

// readLoop accumulates raw reads into a rolling buffer and hands complete
// newline-terminated lines to the handler. Returns when the connection
// drops or is closed.
func (srv *Server) readLoop(sess *Session) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := sess.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				nl := bytes.IndexByte(buf, '\n')
				if nl < 0 {
					break
				}
				line := strings.TrimRight(string(buf[:nl]), "\r")
				buf = buf[nl+1:]
				if line == "" {
					continue
				}
				telemetry.LineInbound(context.Background())
				sess.Touch()
				if srv.cfg.Handler != nil {
					srv.cfg.Handler(sess, line)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Shutdown stops accepting, closes every session, and waits for the
// connection goroutines to finish. Idempotent.
func (srv *Server) Shutdown() {
	srv.stopOnce.Do(func() {
		close(srv.shutdownChan)
		srv.mu.Lock()
		srv.stopped = true
		ln := srv.listener
		srv.mu.Unlock()
		if ln != nil {
			ln.Close()
		}
		for _, s := range srv.registry.Sessions() {
			s.Close()
		}
		srv.wg.Wait()
	})
}
