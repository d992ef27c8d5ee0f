package manikin

import (
	"fmt"
	"os"
	"strings"

	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
)

// HandleRequest serves a REQUEST= line from a session.
func (m *Manikin) HandleRequest(sessionID, request string) {
	switch {
	case strings.HasPrefix(request, "STATUS"):
		status, scenario, state := m.SimulationState()
		m.fan.SendTo(sessionID, fmt.Sprintf("STATUS=%s|SCENARIO=%s|STATE=%s|", status, scenario, state))

	case strings.HasPrefix(request, "CLIENTS"):
		debug.Debugf("client table request")
		var out strings.Builder
		out.WriteString(protocol.ClientsCSVHeader)
		for _, rec := range m.ClientRecords() {
			fmt.Fprintf(&out, "%s,%s,%s,%s,%s,%s,%s,%d\n",
				rec.ClientID, rec.ClientName, rec.LearnerName, rec.Connection,
				rec.ClientType, rec.Role, rec.Status, rec.ConnectTime)
		}
		m.fan.SendTo(sessionID, out.String())

	case strings.HasPrefix(request, "LABS"):
		debug.Debugf("LABS request: %s", request)
		panel := "ALL"
		if idx := strings.IndexByte(request, ';'); idx >= 0 {
			panel = request[idx+1:]
		}
		values := m.LabPanel(panel)
		if len(values) == 0 {
			debug.Warnf("no lab values found for category: %s", panel)
			return
		}
		for name, value := range values {
			m.fan.SendTo(sessionID, fmt.Sprintf("%s=%s;mid=%s|", name, formatFloat(value), m.ID))
		}

	default:
		debug.Warnf("unknown request type: %s", request)
	}
}

// sendConfig delivers the static scenario configuration for one client
// type, silently skipping when no file exists for the pairing.
func (m *Manikin) sendConfig(sessionID, scenario, clientType string) {
	filename := fmt.Sprintf("static/module_configuration_static/%s_%s_configuration.xml", scenario, clientType)
	debug.Debugf("sending %s to %s", filename, sessionID)

	content, err := os.ReadFile(filename)
	if err != nil {
		debug.Warnf("static configuration for client type %s, scenario %s does not exist", clientType, scenario)
		return
	}
	m.fan.SendTo(sessionID, protocol.PrefixConfig+protocol.Encode64(string(content)))
}

// sendConfigToAll pushes the scenario configuration to every typed session.
func (m *Manikin) sendConfigToAll(scenario string) {
	debug.Debugf("sending config to all for scene %s", scenario)

	m.topicMu.RLock()
	targets := make(map[string]string, len(m.clientTypes))
	for sid, clientType := range m.clientTypes {
		targets[sid] = clientType
	}
	m.topicMu.RUnlock()

	for sid, clientType := range targets {
		m.sendConfig(sid, scenario, clientType)
	}
}
