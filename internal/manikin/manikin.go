// Package manikin is the bus adapter: one Manikin owns one bus
// participant, the per-client subscription index, the equipment settings,
// the event-record correlation cache, and the lab-value snapshot, and it
// fans inbound bus samples out to the TCP sessions that asked for them.
package manikin

import (
	"sort"
	"sync"
	"time"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/supervisor"
)

// Simulator status values exposed through REQUEST=STATUS.
const (
	StatusNotRunning = "NOT RUNNING"
	StatusRunning    = "RUNNING"
	StatusPaused     = "PAUSED"
)

const moduleName = "AMM_TCP_Bridge"

// Fanout writes serialized protocol lines to TCP sessions. The session
// layer implements it; tests substitute a recorder.
type Fanout interface {
	// SendTo writes one line to the identified session, reporting whether
	// the session exists.
	SendTo(id, line string) bool
	// Broadcast writes one line to every connected session.
	Broadcast(line string)
}

// ClientRecord is the instructor-console view of a client. Rows survive
// their session briefly after disconnect so departure can be announced.
type ClientRecord struct {
	ClientID    string
	ClientName  string
	LearnerName string
	Connection  string
	ClientType  string
	Role        string
	Status      string
	ConnectTime int64
}

// Manikin bridges one virtual patient's bus domain to the TCP side.
// Each state concern has its own lock; fan-out snapshots recipients and
// never writes a socket while holding one.
type Manikin struct {
	ID       string
	parentID string
	podMode  bool

	part *amm.Participant
	fan  Fanout
	sup  supervisor.Runner
	uuid string

	topicMu     sync.RWMutex
	subscribed  map[string][]string
	published   map[string][]string
	clientTypes map[string]string

	eqMu      sync.Mutex
	equipment map[string]map[string]string

	evMu   sync.Mutex
	events map[string]amm.EventRecord

	labMu sync.Mutex
	labs  map[string]map[string]float64

	stateMu  sync.Mutex
	status   string
	paused   bool
	scenario string
	state    string

	clientsMu sync.Mutex
	clients   map[string]ClientRecord

	pwMu            sync.Mutex
	sessionPassword string
}

// New creates a manikin on the given bus fabric, registers every topic
// callback, and waits a short settle period for discovery to complete.
func New(fabric *amm.Fabric, fan Fanout, sup supervisor.Runner, id, parentID string, podMode bool) *Manikin {
	m := &Manikin{
		ID:          id,
		parentID:    parentID,
		podMode:     podMode,
		part:        fabric.Participant(id),
		fan:         fan,
		sup:         sup,
		uuid:        amm.GenerateUUID(),
		subscribed:  make(map[string][]string),
		published:   make(map[string][]string),
		clientTypes: make(map[string]string),
		equipment:   make(map[string]map[string]string),
		events:      make(map[string]amm.EventRecord),
		clients:     make(map[string]ClientRecord),
		status:      StatusNotRunning,
	}
	m.initLabNodes()

	debug.Infof("initializing manikin manager and listener for %s", id)
	if podMode {
		debug.Infof("currently in POD/TPMS mode")
	}

	m.part.OnPhysiologyValue(m.onPhysiologyValue)
	m.part.OnPhysiologyWaveform(m.onPhysiologyWaveform)
	m.part.OnCommand(m.onCommand)
	m.part.OnSimulationControl(m.onSimulationControl)
	m.part.OnAssessment(m.onAssessment)
	m.part.OnRenderModification(m.onRenderModification)
	m.part.OnPhysiologyModification(m.onPhysiologyModification)
	m.part.OnEventRecord(m.onEventRecord)
	m.part.OnOmittedEvent(m.onOmittedEvent)
	m.part.OnOperationalDescription(m.onOperationalDescription)
	m.part.OnModuleConfiguration(m.onModuleConfiguration)
	m.part.OnStatus(m.onStatus)

	// Settle delay so bus discovery completes before the first publish.
	time.Sleep(250 * time.Millisecond)
	return m
}

// Shutdown detaches the manikin from the bus.
func (m *Manikin) Shutdown() {
	m.part.Shutdown()
}

// ModuleID returns the bus module UUID minted at construction.
func (m *Manikin) ModuleID() string {
	return m.uuid
}

// addSubscription appends topic to the session's subscribed set if absent.
func (m *Manikin) addSubscription(sessionID, topic string) {
	m.topicMu.Lock()
	defer m.topicMu.Unlock()
	m.subscribed[sessionID] = addOnce(m.subscribed[sessionID], topic)
}

// addPublication appends topic to the session's published set if absent.
func (m *Manikin) addPublication(sessionID, topic string) {
	m.topicMu.Lock()
	defer m.topicMu.Unlock()
	m.published[sessionID] = addOnce(m.published[sessionID], topic)
}

func addOnce(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// Subscriptions returns a copy of the session's subscribed topic set.
func (m *Manikin) Subscriptions(sessionID string) []string {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	out := make([]string, len(m.subscribed[sessionID]))
	copy(out, m.subscribed[sessionID])
	return out
}

// subscribersOf snapshots the session ids whose topic set contains any of
// the given topics. Callers write to the sessions after this returns, so
// no socket I/O happens under topicMu.
func (m *Manikin) subscribersOf(topics ...string) []string {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	var out []string
	for sid, subs := range m.subscribed {
		for _, t := range topics {
			if contains(subs, t) {
				out = append(out, sid)
				break
			}
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ClientType returns the declared client type for a session, "" when the
// session has not sent capabilities yet.
func (m *Manikin) ClientType(sessionID string) string {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	return m.clientTypes[sessionID]
}

// RemoveSession clears every per-session index entry. Idempotent; part of
// the disconnect path.
func (m *Manikin) RemoveSession(sessionID string) {
	m.topicMu.Lock()
	delete(m.subscribed, sessionID)
	delete(m.published, sessionID)
	delete(m.clientTypes, sessionID)
	m.topicMu.Unlock()
}

// clientRecord returns the current table row for id, zero row when new.
func (m *Manikin) clientRecord(id string) ClientRecord {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	rec, ok := m.clients[id]
	if !ok {
		rec = ClientRecord{ClientID: id}
	}
	return rec
}

// UpsertClient stores the row under rec.ClientID.
func (m *Manikin) UpsertClient(rec ClientRecord) {
	m.clientsMu.Lock()
	m.clients[rec.ClientID] = rec
	m.clientsMu.Unlock()
}

// RemoveClient drops a table row, typically on KICK.
func (m *Manikin) RemoveClient(id string) {
	m.clientsMu.Lock()
	delete(m.clients, id)
	m.clientsMu.Unlock()
}

// ClientRecords returns the table rows ordered by client id.
func (m *Manikin) ClientRecords() []ClientRecord {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	out := make([]ClientRecord, 0, len(m.clients))
	for _, rec := range m.clients {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// SimulationState reports the status triple for REQUEST=STATUS.
func (m *Manikin) SimulationState() (status, scenario, state string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.status, m.scenario, m.state
}

func (m *Manikin) setStatus(status string, paused bool) {
	m.stateMu.Lock()
	m.status = status
	m.paused = paused
	m.stateMu.Unlock()
}
