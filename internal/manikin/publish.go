package manikin

import (
	"fmt"
	"os"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
)

const (
	capabilitiesFile  = "config/tcp_bridge_capabilities.xml"
	configurationFile = "config/tcp_bridge_configuration.xml"
)

// PublishOperationalDescription announces this bridge module on the bus,
// embedding its capability schema from disk.
func (m *Manikin) PublishOperationalDescription() {
	capabilities, err := os.ReadFile(capabilitiesFile)
	if err != nil {
		debug.Warnf("reading %s: %v", capabilitiesFile, err)
	}
	m.part.PublishOperationalDescription(amm.OperationalDescription{
		Name:               moduleName,
		Model:              "TCP Bridge",
		Manufacturer:       "Vcom3D",
		SerialNumber:       "1.0.0",
		ModuleID:           m.uuid,
		ModuleVersion:      "1.0.0",
		CapabilitiesSchema: string(capabilities),
	})
}

// PublishConfiguration announces this bridge's module configuration from
// disk.
func (m *Manikin) PublishConfiguration() {
	configuration, err := os.ReadFile(configurationFile)
	if err != nil {
		debug.Warnf("reading %s: %v", configurationFile, err)
	}
	m.part.PublishModuleConfiguration(amm.ModuleConfiguration{
		Name:                      moduleName,
		ModuleID:                  m.uuid,
		Timestamp:                 nowMillis(),
		CapabilitiesConfiguration: string(configuration),
	})
}

// SendEventRecord publishes the event record that anchors a modification
// or assessment.
func (m *Manikin) SendEventRecord(eventID, location, agentID, eventType string) {
	m.part.PublishEventRecord(amm.EventRecord{
		ID:       eventID,
		Location: amm.FMALocation{Name: location},
		AgentID:  agentID,
		Type:     eventType,
	})
}

// SendRenderModification publishes a render modification, synthesizing a
// minimal payload from the type when none was given.
func (m *Manikin) SendRenderModification(eventID, modType, payload string) {
	if modType != "" && payload == "" {
		payload = "<RenderModification type='" + modType + "'/>"
	}
	m.part.PublishRenderModification(amm.RenderModification{
		EventID: eventID,
		Type:    modType,
		Data:    payload,
	})
}

// SendPhysiologyModification publishes a physiology modification.
func (m *Manikin) SendPhysiologyModification(eventID, modType, payload string) {
	m.part.PublishPhysiologyModification(amm.PhysiologyModification{
		EventID: eventID,
		Type:    modType,
		Data:    payload,
	})
}

// SendAssessment publishes an assessment referencing the event.
func (m *Manikin) SendAssessment(eventID string) {
	m.part.PublishAssessment(amm.Assessment{EventID: eventID})
}

// SendCommand publishes a raw command message.
func (m *Manikin) SendCommand(message string) {
	m.part.PublishCommand(amm.Command{Message: message})
}

// SendModuleConfiguration publishes a configuration document targeted at
// modules whose type matches name.
func (m *Manikin) SendModuleConfiguration(name, config string) {
	m.part.PublishModuleConfiguration(amm.ModuleConfiguration{
		Name:                      name,
		CapabilitiesConfiguration: config,
	})
}

// HandleModification ingests a client's "[<topic>]<kvp>" line, minting the
// anchoring event record before the typed payload so subscribers can
// correlate the two.
func (m *Manikin) HandleModification(topic, body string) {
	// Commands pass through untouched.
	if topic == string(amm.TopicCommand) {
		debug.Infof("sending command: %s", body)
		m.SendCommand(body)
		return
	}

	kvp := protocol.ParseKVP(body)

	eventID := kvp["event_id"]
	if eventID == "" {
		eventID = amm.GenerateUUID()
	}
	location := kvp["location"]
	agentID := kvp["participant_id"]
	modType := kvp["type"]
	payload := kvp["payload"]
	if modType == "" {
		modType = protocol.ExtractTypeAttr(payload)
	}

	switch topic {
	case string(amm.TopicRenderModification):
		m.SendEventRecord(eventID, location, agentID, modType)
		m.SendRenderModification(eventID, modType, payload)
	case string(amm.TopicPhysiologyModification):
		m.SendEventRecord(eventID, location, agentID, modType)
		m.SendPhysiologyModification(eventID, modType, payload)
	case string(amm.TopicAssessment), "AMM_Performance_Assessment":
		m.SendEventRecord(eventID, location, agentID, modType)
		m.SendAssessment(eventID)
	case string(amm.TopicModuleConfiguration):
		m.SendModuleConfiguration(modType, payload)
	default:
		debug.Warnf("unknown modification topic: %s", topic)
	}
}

// KickClient publishes a kick command on the bus so every bridge drops
// the client's table row.
func (m *Manikin) KickClient(clientID string) {
	m.SendCommand(fmt.Sprintf("%sKICK=%s", protocol.SysPrefix, clientID))
}

// AnnounceDisconnect broadcasts a client departure as an UPDATE_CLIENT
// command on the bus.
func (m *Manikin) AnnounceDisconnect(rec ClientRecord) {
	m.SendCommand(fmt.Sprintf(
		"%sUPDATE_CLIENT=client_id=%s;client_name=%s;learner_name=%s;client_connection=%s;client_type=%s;role=%s;client_status=DISCONNECTED;connect_time=%d",
		protocol.SysPrefix, rec.ClientID, rec.ClientName, rec.LearnerName,
		rec.Connection, rec.ClientType, rec.Role, rec.ConnectTime))
}
