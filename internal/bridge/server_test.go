package bridge

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
	sess  *Session
}

func (r *lineRecorder) handle(s *Session, line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.sess = s
	r.mu.Unlock()
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, srv.Addr())
	return srv, srv.Addr()
}

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestServer_DeliversLines(t *testing.T) {
	rec := &lineRecorder{}
	srv, addr := startServer(t, Config{Handler: rec.handle})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("REQUEST=STATUS\r\nACT=START_SIM\n"))
	require.NoError(t, err)

	waitCond(t, func() bool { return len(rec.snapshot()) == 2 })
	assert.Equal(t, []string{"REQUEST=STATUS", "ACT=START_SIM"}, rec.snapshot())

	rec.mu.Lock()
	sess := rec.sess
	rec.mu.Unlock()
	require.NotNil(t, sess)
	assert.Len(t, sess.ID, 10)
	assert.Equal(t, "Client "+sess.ID, sess.Name())
	assert.Same(t, sess, srv.Registry().Get(sess.ID))
}

func TestServer_PartialLinesReassembled(t *testing.T) {
	rec := &lineRecorder{}
	_, addr := startServer(t, Config{Handler: rec.handle})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	for _, chunk := range []string{"MODULE_N", "AME=conso", "le\n"} {
		_, err := conn.Write([]byte(chunk))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	waitCond(t, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, "MODULE_NAME=console", rec.snapshot()[0])
}

func TestServer_DisconnectCleanup(t *testing.T) {
	var mu sync.Mutex
	var disconnected []string
	srv, addr := startServer(t, Config{
		Handler: func(*Session, string) {},
		OnDisconnect: func(s *Session) {
			mu.Lock()
			disconnected = append(disconnected, s.ID)
			mu.Unlock()
		},
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	waitCond(t, func() bool { return srv.Registry().Count() == 1 })
	conn.Close()

	waitCond(t, func() bool { return srv.Registry().Count() == 0 })
	waitCond(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1
	})
}

func TestServer_BroadcastAndLargeSend(t *testing.T) {
	srv, addr := startServer(t, Config{Handler: func(*Session, string) {}})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitCond(t, func() bool { return srv.Registry().Count() == 1 })

	// Over two chunks worth of payload exercises the chunked write path.
	payload := "CONFIG=" + strings.Repeat("A", 3*maxChunk)
	srv.Registry().Broadcast(payload)

	reader := bufio.NewReaderSize(conn, 4*maxChunk)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, payload+"\n", line)
}

func TestServer_OnConnectHook(t *testing.T) {
	var mu sync.Mutex
	var connected []string
	srv, addr := startServer(t, Config{
		Handler: func(*Session, string) {},
		OnConnect: func(s *Session) {
			mu.Lock()
			connected = append(connected, s.ID)
			mu.Unlock()
		},
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitCond(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1
	})
	assert.Equal(t, 1, srv.Registry().Count())
}

func TestServer_PanicCleanup(t *testing.T) {
	var mu sync.Mutex
	var disconnected []string
	srv, addr := startServer(t, Config{
		Handler: func(*Session, string) { panic("handler failure") },
		OnDisconnect: func(s *Session) {
			mu.Lock()
			disconnected = append(disconnected, s.ID)
			mu.Unlock()
		},
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitCond(t, func() bool { return srv.Registry().Count() == 1 })
	_, err = conn.Write([]byte("ACT=START_SIM\n"))
	require.NoError(t, err)

	// The panic must run the same teardown as a read error: registry
	// entry gone, disconnect hook fired, socket closed.
	waitCond(t, func() bool { return srv.Registry().Count() == 0 })
	waitCond(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1
	})
}

func TestRegistry_SendErrorClosesSession(t *testing.T) {
	srv := NewServer(Config{Handler: func(*Session, string) {}}, NewRegistry())
	c1, c2 := net.Pipe()
	defer c2.Close()

	srv.connSem <- struct{}{}
	srv.wg.Add(1)
	go srv.handleConn(c1)

	waitCond(t, func() bool { return srv.Registry().Count() == 1 })
	sess := srv.Registry().Sessions()[0]

	// The peer never reads, so the write hits its deadline; the failed
	// send must close the session and the read loop reap it.
	assert.True(t, srv.Registry().SendTo(sess.ID, "BLOCKED"))
	waitCond(t, func() bool { return srv.Registry().Count() == 0 })
}

func TestServer_KeepAliveOnlyWhenIdle(t *testing.T) {
	_, addr := startServer(t, Config{
		Handler:           func(*Session, string) {},
		KeepAliveInterval: 100 * time.Millisecond,
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	// A chatty session gets no keepalives.
	for i := 0; i < 15; i++ {
		_, err := conn.Write([]byte("REQUEST=STATUS\n"))
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Millisecond)))
	_, err = reader.ReadString('\n')
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())

	// Going quiet brings them back.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, keepAliveLine, line)
}

func TestSession_KeepHistoryFlag(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	s := newSession("abcdefghij", "uuid", c1)
	assert.False(t, s.KeepHistory())
	s.SetKeepHistory(true)
	assert.True(t, s.KeepHistory())
}
