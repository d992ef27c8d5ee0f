package pod

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amm-sim/tcp-bridge/internal/bridge"
	"github.com/amm-sim/tcp-bridge/internal/manikin"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
	"github.com/amm-sim/tcp-bridge/internal/supervisor"
)

const capabilityXML = `<AMMModuleConfiguration>
  <module name="vitals_monitor" manufacturer="Test" model="M1" serial_number="123" module_version="1.0">
    <capabilities>
      <capability name="display">
        <subscribed_topics>
          <topic name="HR"/>
        </subscribed_topics>
      </capability>
    </capabilities>
  </module>
</AMMModuleConfiguration>`

func startBridge(t *testing.T) (*Pod, *bridge.Server, string) {
	t.Helper()
	registry := bridge.NewRegistry()
	p := New(registry, &supervisor.Recorder{}, "manikin_1", "AMM_000", 1, false)
	t.Cleanup(p.Shutdown)

	srv := bridge.NewServer(bridge.Config{
		Addr:         "127.0.0.1:0",
		Handler:      p.HandleLine,
		OnConnect:    p.HandleConnect,
		OnDisconnect: p.HandleDisconnect,
	}, registry)

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
	return p, srv, srv.Addr()
}

func waitFor(t *testing.T, cond func() bool) {
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

// readLine reads one protocol line with a bounded deadline.
func readLine(t *testing.T, conn net.Conn, reader *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestRegisterBroadcastsClientJoined(t *testing.T) {
	p, srv, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	waitFor(t, func() bool { return srv.Registry().Count() == 1 })
	sessID := srv.Registry().Sessions()[0].ID

	_, err = conn.Write([]byte("REGISTER=Console;Jane\n"))
	require.NoError(t, err)

	assert.Equal(t, "CLIENT_JOINED="+sessID, readLine(t, conn, reader))

	waitFor(t, func() bool {
		for _, rec := range p.Default().ClientRecords() {
			if rec.ClientID == sessID && rec.ClientName == "Console" {
				return true
			}
		}
		return false
	})
	recs := p.Default().ClientRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, "Jane", recs[0].LearnerName)
	assert.Equal(t, "CONNECTED", recs[0].Status)
	assert.Equal(t, "TCP", recs[0].Connection)
}

func TestCapabilityAck(t *testing.T) {
	p, srv, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	waitFor(t, func() bool { return srv.Registry().Count() == 1 })
	sess := srv.Registry().Sessions()[0]

	_, err = conn.Write([]byte("CAPABILITY=" + protocol.Encode64(capabilityXML) + "\n"))
	require.NoError(t, err)

	assert.Equal(t, "CAPABILITIES_RECEIVED="+sess.ID, readLine(t, conn, reader))
	assert.Equal(t, "vitals_monitor", sess.ClientType())
	assert.Contains(t, p.Default().Subscriptions(sess.ID), "HR")
}

func TestCapabilityBadBase64(t *testing.T) {
	_, srv, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	waitFor(t, func() bool { return srv.Registry().Count() == 1 })
	sessID := srv.Registry().Sessions()[0].ID

	_, err = conn.Write([]byte("CAPABILITY=!!!notbase64!!!\n"))
	require.NoError(t, err)

	assert.Equal(t, "ERROR_IN_CAPABILITIES_RECEIVED="+sessID, readLine(t, conn, reader))
}

func TestStatusRequestReply(t *testing.T) {
	_, _, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("REQUEST=STATUS\n"))
	require.NoError(t, err)

	assert.Equal(t, "STATUS=NOT RUNNING|SCENARIO=|STATE=|", readLine(t, conn, reader))
}

func TestModuleNameSetsDisplayName(t *testing.T) {
	_, srv, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return srv.Registry().Count() == 1 })
	sess := srv.Registry().Sessions()[0]

	_, err = conn.Write([]byte("MODULE_NAME=instructor_console\nKEEP_HISTORY=TRUE\n"))
	require.NoError(t, err)

	waitFor(t, func() bool { return sess.Name() == "instructor_console" })
	waitFor(t, func() bool { return sess.KeepHistory() })
}

func TestDisconnectBroadcastsUpdateClient(t *testing.T) {
	p, srv, addr := startBridge(t)

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	r1 := bufio.NewReader(c1)

	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	waitFor(t, func() bool { return srv.Registry().Count() == 2 })
	c2.Close()
	waitFor(t, func() bool { return srv.Registry().Count() == 1 })

	// The departure rides the bus as an UPDATE_CLIENT command, which the
	// manikin echoes to the remaining sessions as an ACT line.
	line := readLine(t, c1, r1)
	assert.Contains(t, line, "ACT=[SYS]UPDATE_CLIENT=")
	assert.Contains(t, line, "client_status=DISCONNECTED")

	waitFor(t, func() bool {
		for _, rec := range p.Default().ClientRecords() {
			if rec.Status == "DISCONNECTED" {
				return true
			}
		}
		return false
	})
}

func TestKickRemovesRecordAndPublishes(t *testing.T) {
	p, srv, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return srv.Registry().Count() == 1 })
	m := p.Default()
	m.UpsertClient(manikin.ClientRecord{ClientID: "S3", ClientName: "doomed", Status: "CONNECTED"})

	_, err = conn.Write([]byte("KICK=S3\n"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		for _, rec := range m.ClientRecords() {
			if rec.ClientID == "S3" {
				return false
			}
		}
		return true
	})
}

func TestUnknownPrefixIgnored(t *testing.T) {
	_, _, addr := startBridge(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("BOGUS LINE\nREQUEST=STATUS\n"))
	require.NoError(t, err)

	// The bad line is dropped; the session keeps working.
	assert.Equal(t, "STATUS=NOT RUNNING|SCENARIO=|STATE=|", readLine(t, conn, reader))
}

func TestRouteFallsBackToDefault(t *testing.T) {
	p, _, _ := startBridge(t)
	assert.Same(t, p.Default(), p.route("STATUS;mid=manikin_99"))
	assert.Same(t, p.Default(), p.route("STATUS"))
}

func TestPodModeDefaultFallback(t *testing.T) {
	// In pod mode the manikins are named manikin_1..N; a default id
	// outside that set falls back to the first manikin instead of leaving
	// every registration without a target.
	registry := bridge.NewRegistry()
	p := New(registry, &supervisor.Recorder{}, "bed_7", "AMM_000", 2, true)
	t.Cleanup(p.Shutdown)

	require.NotNil(t, p.Default())
	assert.Same(t, p.GetManikin("manikin_1"), p.Default())
}

func TestPodModeCreatesNamedManikins(t *testing.T) {
	registry := bridge.NewRegistry()
	p := New(registry, &supervisor.Recorder{}, "manikin_1", "AMM_000", 2, true)
	t.Cleanup(p.Shutdown)

	require.Len(t, p.Manikins(), 2)
	assert.NotNil(t, p.GetManikin("manikin_1"))
	assert.NotNil(t, p.GetManikin("manikin_2"))
	assert.Nil(t, p.GetManikin("manikin_3"))
	assert.Same(t, p.GetManikin("manikin_2"), p.route("mid=manikin_2"))
}
