// Package discovery answers UDP probes so consoles on the local network
// can locate a bridge without configuration.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/amm-sim/tcp-bridge/internal/debug"
)

// Responder replies to any datagram on its port with the bridge identity
// payload "AMM_TCP_BRIDGE;manikin_id=<id>".
type Responder struct {
	Port      int
	ManikinID string

	mu   sync.Mutex
	conn *net.UDPConn
}

// Addr returns the bound UDP address, or nil before Run has bound it.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run binds the UDP port and answers probes until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.Port})
	if err != nil {
		return fmt.Errorf("discovery listen :%d: %w", r.Port, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer conn.Close()
	debug.Infof("discovery responder listening on udp %s", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reply := []byte("AMM_TCP_BRIDGE;manikin_id=" + r.ManikinID)
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}
		debug.Tracef("discovery probe from %s: %q", addr, buf[:n])
		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			debug.Warnf("discovery reply to %s: %v", addr, err)
		}
	}
}
