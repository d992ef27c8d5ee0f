package manikin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// physLine renders a physiology sample for one client. The mid suffix is
// only present in pod mode so single-manikin clients keep the short form.
func (m *Manikin) physLine(name string, value float64) string {
	if m.podMode {
		return fmt.Sprintf("%s=%s;mid=%s|", name, formatFloat(value), m.ID)
	}
	return fmt.Sprintf("%s=%s|", name, formatFloat(value))
}

func (m *Manikin) onPhysiologyValue(v amm.PhysiologyValue) {
	m.foldLabValue(v.Name, v.Value)

	line := m.physLine(v.Name, v.Value)
	for _, sid := range m.subscribersOf(v.Name) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onPhysiologyWaveform(w amm.PhysiologyWaveform) {
	line := m.physLine(w.Name, w.Value)
	for _, sid := range m.subscribersOf("HF_" + w.Name) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onStatus(st amm.Status) {
	debug.Debugf("[%s][%s][%s] status = %s", st.ModuleID, st.ModuleName, st.Capability, st.Value)

	line := fmt.Sprintf("[AMM_Status]mid=%s;capability=%s;status_code=%s;status=%d;data=%s",
		m.ID, st.Capability, st.Value, int(st.Value), st.Message)
	for _, sid := range m.subscribersOf(string(amm.TopicStatus)) {
		m.fan.SendTo(sid, line)
	}
}

// onModuleConfiguration routes a configuration document to the sessions
// whose declared client type contains the config's name. A config named
// "metadata" goes to every typed session.
func (m *Manikin) onModuleConfiguration(mc amm.ModuleConfiguration) {
	debug.Debugf("received module config on manikin %s for %s", m.ID, mc.Name)

	m.topicMu.RLock()
	var targets []string
	for sid, clientType := range m.clientTypes {
		if strings.Contains(clientType, mc.Name) || mc.Name == "metadata" {
			targets = append(targets, sid)
		}
	}
	m.topicMu.RUnlock()

	line := fmt.Sprintf("%s%s;mid=%s",
		protocol.PrefixConfig, protocol.Encode64(mc.CapabilitiesConfiguration), m.ID)
	for _, sid := range targets {
		m.fan.SendTo(sid, line)
	}
}

// correlate looks up an event id in the correlation cache, returning the
// originating location and participant when known.
func (m *Manikin) correlate(eventID string) (location, practitioner, eventType string) {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	if er, ok := m.events[eventID]; ok {
		return er.Location.Name, er.AgentID, er.Type
	}
	return "", "", ""
}

func (m *Manikin) onPhysiologyModification(pm amm.PhysiologyModification) {
	location, practitioner, _ := m.correlate(pm.EventID)

	line := fmt.Sprintf("[AMM_Physiology_Modification]id=%s;mid=%s;event_id=%s;type=%s;location=%s;participant_id=%s;payload=%s",
		pm.ID, m.ID, pm.EventID, pm.Type, location, practitioner, pm.Data)
	debug.Debugf("phys mod on manikin %s, republishing to TCP clients: %s", m.ID, line)

	for _, sid := range m.subscribersOf(pm.Type, string(amm.TopicPhysiologyModification)) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onRenderModification(rm amm.RenderModification) {
	location, practitioner, _ := m.correlate(rm.EventID)

	payload := rm.Data
	if payload == "" {
		payload = "<RenderModification type='" + rm.Type + "'/>"
	}

	line := fmt.Sprintf("[AMM_Render_Modification]id=%s;mid=%s;event_id=%s;type=;location=%s;participant_id=%s;payload=%s",
		rm.ID, m.ID, rm.EventID, location, practitioner, payload)

	if !strings.Contains(payload, "START_OF") {
		debug.Infof("render mod on manikin %s, republishing to TCP: %s", m.ID, line)
	}

	for _, sid := range m.subscribersOf(rm.Type, string(amm.TopicRenderModification)) {
		m.fan.SendTo(sid, line)
	}

	// Role selections ride in as render mods; propagate the assignment to
	// every bridge through an UPDATE_CLIENT command.
	if strings.Contains(payload, "CHOSE_ROLE") && practitioner != "" {
		parts := strings.SplitN(practitioner, ":", 3)
		if len(parts) == 3 {
			m.part.PublishCommand(amm.Command{
				Message: fmt.Sprintf("%sUPDATE_CLIENT=client_id=%s;role=%s;learner_name=%s",
					protocol.SysPrefix, parts[1], parts[0], parts[2]),
			})
		}
	}
}

func (m *Manikin) onAssessment(a amm.Assessment) {
	location, practitioner, eventType := m.correlate(a.EventID)

	line := fmt.Sprintf("[AMM_Assessment]id=%s;mid=%s;event_id=%s;type=%s;location=%s;participant_id=%s;value=%s;comment=%s",
		a.ID, m.ID, a.EventID, eventType, location, practitioner, a.Value, a.Comment)
	debug.Debugf("assessment on manikin %s, republishing to TCP clients: %s", m.ID, line)

	for _, sid := range m.subscribersOf(string(amm.TopicAssessment)) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onEventRecord(er amm.EventRecord) {
	debug.Debugf("event record of type %s on manikin %s", er.Type, m.ID)

	m.evMu.Lock()
	m.events[er.ID] = er
	m.evMu.Unlock()

	line := fmt.Sprintf("[AMM_EventRecord]id=%s;mid=%s;type=%s;location=%s;participant_id=%s;participant_type=%s;data=%s;",
		er.ID, m.ID, er.Type, er.Location.Name, er.AgentID, er.AgentType, er.Data)

	for _, sid := range m.subscribersOf(string(amm.TopicEventRecord)) {
		m.fan.SendTo(sid, line)
	}
}

// onOmittedEvent promotes the omission to a cached event record and fans
// it out to event-record subscribers under its own envelope.
func (m *Manikin) onOmittedEvent(oe amm.OmittedEvent) {
	debug.Debugf("omitted event record of type %s on manikin %s", oe.Type, m.ID)

	er := amm.EventRecord{
		ID:        oe.ID,
		Type:      oe.Type,
		Location:  oe.Location,
		AgentID:   oe.AgentID,
		AgentType: oe.AgentType,
		Timestamp: oe.Timestamp,
		Data:      oe.Data,
	}
	m.evMu.Lock()
	m.events[er.ID] = er
	m.evMu.Unlock()

	line := fmt.Sprintf("[AMM_OmittedEvent]id=%s;mid=%s;type=%s;location=%s;participant_id=%s;participant_type=%s;data=%s;",
		er.ID, m.ID, er.Type, er.Location.Name, er.AgentID, er.AgentType, er.Data)

	for _, sid := range m.subscribersOf(string(amm.TopicEventRecord)) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onOperationalDescription(od amm.OperationalDescription) {
	debug.Infof("operational description on manikin %s (%s)", m.ID, od.Name)

	line := fmt.Sprintf("[AMM_OperationalDescription]name=%s;mid=%s;description=%s;manufacturer=%s;model=%s;serial_number=%s;module_id=%s;module_version=%s;configuration_version=%s;AMM_version=%s;capabilities_configuration=%s",
		od.Name, m.ID, od.Description, od.Manufacturer, od.Model, od.SerialNumber,
		od.ModuleID, od.ModuleVersion, od.ConfigurationVersion, od.AMMVersion,
		protocol.Encode64(od.CapabilitiesSchema))

	for _, sid := range m.subscribersOf(string(amm.TopicOperationalDescription)) {
		m.fan.SendTo(sid, line)
	}
}

func (m *Manikin) onSimulationControl(sc amm.SimulationControl) {
	debug.Infof("simulation control message on manikin %s", m.ID)

	switch sc.Type {
	case amm.ControlRun:
		m.setStatus(StatusRunning, false)
		m.fan.Broadcast(fmt.Sprintf("%sSTART_SIM;mid=%s", protocol.SysPrefix, m.ID))
	case amm.ControlHalt:
		m.stateMu.Lock()
		if m.paused {
			m.status = StatusPaused
		} else {
			m.status = StatusNotRunning
		}
		m.stateMu.Unlock()
		m.fan.Broadcast(fmt.Sprintf("%sPAUSE_SIM;mid=%s", protocol.SysPrefix, m.ID))
	case amm.ControlReset:
		m.setStatus(StatusNotRunning, false)
		m.initLabNodes()
		m.fan.Broadcast(fmt.Sprintf("%sRESET_SIM;mid=%s", protocol.SysPrefix, m.ID))
	case amm.ControlSave:
		debug.Infof("save sim requested")
	}
}

func (m *Manikin) onCommand(c amm.Command) {
	debug.Infof("command message on manikin %s: %s", m.ID, c.Message)
	if strings.HasPrefix(c.Message, protocol.SysPrefix) {
		m.handleSysCommand(c.Message)
	}
}
