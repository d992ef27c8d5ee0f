// Package pod hosts the manikin set and routes inbound protocol lines to
// the right manikin by mid= selector, falling back to the default manikin
// when the selector is absent or unknown.
package pod

import (
	"fmt"
	"strings"
	"time"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/bridge"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/manikin"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
	"github.com/amm-sim/tcp-bridge/internal/supervisor"
)

// Pod owns 1-4 manikins. The map is built once at startup and never
// mutated afterwards, so lookups need no lock.
type Pod struct {
	manikins  map[string]*manikin.Manikin
	order     []string
	defaultID string
	podMode   bool
	fan       manikin.Fanout
}

// New creates the pod and eagerly initializes count manikins, each on its
// own bus fabric. In single-manikin mode the one manikin carries the
// configured default id; in pod mode manikins are named manikin_1..N.
func New(fan manikin.Fanout, sup supervisor.Runner, defaultID, coreID string, count int, podMode bool) *Pod {
	p := &Pod{
		manikins:  make(map[string]*manikin.Manikin),
		defaultID: defaultID,
		podMode:   podMode,
		fan:       fan,
	}
	if count < 1 {
		count = 1
	}
	for i := 1; i <= count; i++ {
		id := defaultID
		if podMode {
			id = fmt.Sprintf("manikin_%d", i)
		}
		fabric := amm.NewFabric(0)
		p.manikins[id] = manikin.New(fabric, fan, sup, id, coreID, podMode)
		p.order = append(p.order, id)
		if !podMode {
			break
		}
	}
	// Pod mode names manikins itself; a configured default id outside that
	// set would leave every registration without a manikin.
	if _, ok := p.manikins[p.defaultID]; !ok {
		debug.Warnf("default manikin id %s not hosted, using %s", p.defaultID, p.order[0])
		p.defaultID = p.order[0]
	}
	return p
}

// GetManikin returns the named manikin, or nil.
func (p *Pod) GetManikin(id string) *manikin.Manikin {
	return p.manikins[id]
}

// Default returns the default manikin.
func (p *Pod) Default() *manikin.Manikin {
	return p.manikins[p.defaultID]
}

// Manikins returns the manikins in creation order.
func (p *Pod) Manikins() []*manikin.Manikin {
	out := make([]*manikin.Manikin, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.manikins[id])
	}
	return out
}

// route resolves the mid= selector in a message body, falling back to the
// default manikin when the selector is absent or unknown.
func (p *Pod) route(body string) *manikin.Manikin {
	mid := protocol.ExtractManikinID(body, p.defaultID)
	if m, ok := p.manikins[mid]; ok {
		return m
	}
	debug.Tracef("mid %q not resolvable, routing to %s", mid, p.defaultID)
	return p.manikins[p.defaultID]
}

// Announce publishes every manikin's operational description and module
// configuration. Called once at startup.
func (p *Pod) Announce() {
	for _, m := range p.Manikins() {
		m.PublishOperationalDescription()
		m.PublishConfiguration()
	}
}

// Shutdown detaches every manikin from its bus.
func (p *Pod) Shutdown() {
	for _, m := range p.Manikins() {
		m.Shutdown()
	}
}

// HandleConnect seeds the client table row for a fresh session.
func (p *Pod) HandleConnect(s *bridge.Session) {
	m := p.Default()
	if m == nil {
		return
	}
	m.UpsertClient(manikin.ClientRecord{
		ClientID:    s.ID,
		ClientName:  s.Name(),
		Connection:  "TCP",
		Status:      "CONNECTED",
		ConnectTime: time.Now().Unix(),
	})
}

// HandleDisconnect marks the departed session DISCONNECTED, announces it
// on the bus, and clears the session from every manikin's indices.
func (p *Pod) HandleDisconnect(s *bridge.Session) {
	for _, m := range p.Manikins() {
		m.RemoveSession(s.ID)
	}
	m := p.Default()
	if m == nil {
		debug.Warnf("cannot send disconnection update, no default manikin")
		return
	}
	rec := manikin.ClientRecord{ClientID: s.ID}
	for _, r := range m.ClientRecords() {
		if r.ClientID == s.ID {
			rec = r
			break
		}
	}
	rec.Status = "DISCONNECTED"
	m.UpsertClient(rec)
	m.AnnounceDisconnect(rec)
}

// HandleLine routes one inbound protocol line, first match wins.
func (p *Pod) HandleLine(s *bridge.Session, line string) {
	switch {
	case strings.HasPrefix(line, protocol.PrefixKeepAlive):
		debug.Tracef("received KEEPALIVE from client %s", s.ID)

	case strings.HasPrefix(line, protocol.PrefixModuleName):
		s.SetName(strings.TrimPrefix(line, protocol.PrefixModuleName))

	case strings.HasPrefix(line, protocol.PrefixRegister):
		p.handleRegister(s, strings.TrimPrefix(line, protocol.PrefixRegister))

	case strings.HasPrefix(line, protocol.PrefixKick):
		p.handleKick(s, strings.TrimPrefix(line, protocol.PrefixKick))

	case strings.HasPrefix(line, protocol.PrefixStatus):
		p.handleStatus(s, strings.TrimPrefix(line, protocol.PrefixStatus))

	case strings.HasPrefix(line, protocol.PrefixCapability):
		p.handleCapability(s, strings.TrimPrefix(line, protocol.PrefixCapability))

	case strings.HasPrefix(line, protocol.PrefixSettings):
		p.handleSettings(s, strings.TrimPrefix(line, protocol.PrefixSettings))

	case strings.HasPrefix(line, protocol.PrefixKeepHistory):
		val := strings.TrimPrefix(line, protocol.PrefixKeepHistory)
		s.SetKeepHistory(strings.EqualFold(val, "TRUE"))

	case strings.HasPrefix(line, protocol.PrefixRequest):
		request := strings.TrimPrefix(line, protocol.PrefixRequest)
		debug.Infof("client %s sent request: %s", s.ID, request)
		p.route(request).HandleRequest(s.ID, request)

	case strings.HasPrefix(line, protocol.PrefixAction):
		action := strings.TrimPrefix(line, protocol.PrefixAction)
		debug.Infof("client %s sent action: %s", s.ID, action)
		p.route(action).SendCommand(action)

	case strings.HasPrefix(line, protocol.PrefixGenericTopic):
		topic, body, ok := protocol.SplitTopicLine(line)
		if !ok {
			debug.Errorf("malformed generic topic message from client %s: %s", s.ID, line)
			return
		}
		p.route(body).HandleModification(topic, body)

	case strings.HasPrefix(line, protocol.ModuleConnected):
		// Legacy greeting, ignore.

	default:
		debug.Errorf("unknown or unsupported message from client %s: %s", s.ID, line)
	}
}

func (p *Pod) handleRegister(s *bridge.Session, registerVal string) {
	debug.Infof("client %s registered name: %s", s.ID, registerVal)

	m := p.Default()
	parts := strings.Split(registerVal, ";")
	if len(parts) >= 2 {
		rec := manikin.ClientRecord{ClientID: s.ID}
		for _, r := range m.ClientRecords() {
			if r.ClientID == s.ID {
				rec = r
				break
			}
		}
		rec.ClientName = parts[0]
		rec.LearnerName = parts[1]
		rec.Status = "CONNECTED"
		m.UpsertClient(rec)
		s.SetName(parts[0])
	} else {
		debug.Warnf("malformed registration message: %s", registerVal)
	}

	p.broadcast(fmt.Sprintf("CLIENT_JOINED=%s", s.ID))
}

func (p *Pod) handleKick(s *bridge.Session, kickID string) {
	debug.Infof("client %s requested kick of client ID: %s", s.ID, kickID)
	m := p.Default()
	found := false
	for _, r := range m.ClientRecords() {
		if r.ClientID == kickID {
			found = true
			break
		}
	}
	if found {
		m.RemoveClient(kickID)
	} else {
		debug.Warnf("attempted to kick non-existent client ID: %s", kickID)
	}
	m.SendCommand("KICK_CLIENT=" + kickID)
}

func (p *Pod) handleStatus(s *bridge.Session, encoded string) {
	status, err := protocol.Decode64(encoded)
	if err != nil {
		debug.Errorf("error decoding base64 status message: %v", err)
		return
	}
	debug.Debugf("client %s set status: %s", s.ID, status)
	if err := p.route(status).HandleStatus(s.ID, status); err != nil {
		debug.Errorf("handling status from %s: %v", s.ID, err)
	}
}

func (p *Pod) handleCapability(s *bridge.Session, encoded string) {
	capabilities, err := protocol.Decode64(encoded)
	if err != nil {
		debug.Errorf("error decoding base64 capabilities: %v", err)
		s.SendLine("ERROR_IN_CAPABILITIES_RECEIVED=" + s.ID)
		return
	}

	debug.Infof("client %s sent capabilities", s.ID)
	m := p.route(capabilities)
	if err := m.HandleCapabilities(s.ID, capabilities); err != nil {
		debug.Errorf("handling capabilities from %s: %v", s.ID, err)
		s.SendLine("ERROR_IN_CAPABILITIES_RECEIVED=" + s.ID)
		return
	}
	s.SetClientType(m.ClientType(s.ID))
	s.SendLine("CAPABILITIES_RECEIVED=" + s.ID)
}

func (p *Pod) handleSettings(s *bridge.Session, encoded string) {
	settings, err := protocol.Decode64(encoded)
	if err != nil {
		debug.Errorf("error decoding base64 settings: %v", err)
		return
	}
	debug.Infof("client %s sent settings: %s", s.ID, settings)
	if err := p.route(settings).HandleSettings(s.ID, settings); err != nil {
		debug.Errorf("handling settings from %s: %v", s.ID, err)
	}
}

// broadcast carries pod-level notifications such as CLIENT_JOINED that do
// not go through a manikin's dispatcher.
func (p *Pod) broadcast(line string) {
	p.fan.Broadcast(line)
}
