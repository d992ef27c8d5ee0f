package manikin

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/debug"
)

// moduleConfigDoc mirrors the AMMModuleConfiguration capability document.
type moduleConfigDoc struct {
	XMLName xml.Name     `xml:"AMMModuleConfiguration"`
	Module  moduleConfig `xml:"module"`
}

type moduleConfig struct {
	Name          string       `xml:"name,attr"`
	Manufacturer  string       `xml:"manufacturer,attr"`
	Model         string       `xml:"model,attr"`
	SerialNumber  string       `xml:"serial_number,attr"`
	ModuleVersion string       `xml:"module_version,attr"`
	Capabilities  []capability `xml:"capabilities>capability"`
}

type capability struct {
	Name             string    `xml:"name,attr"`
	StartingSettings []setting `xml:"starting_settings>setting"`
	Configuration    []setting `xml:"configuration>setting"`
	SubscribedTopics []topic   `xml:"subscribed_topics>topic"`
	PublishedTopics  []topic   `xml:"published_topics>topic"`
}

type setting struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type topic struct {
	Name     string `xml:"name,attr"`
	NodePath string `xml:"nodepath,attr"`
}

// moduleStatusDoc mirrors the AMMModuleStatus document.
type moduleStatusDoc struct {
	XMLName xml.Name `xml:"AMMModuleStatus"`
	Module  struct {
		Name string `xml:"name,attr"`
	} `xml:"module"`
}

// HandleCapabilities ingests a capability document from a session:
// announces the module on the bus, records the client type, rebuilds the
// session's subscription index from scratch, and seeds equipment settings.
func (m *Manikin) HandleCapabilities(sessionID, capabilityXML string) error {
	var doc moduleConfigDoc
	if err := xml.Unmarshal([]byte(capabilityXML), &doc); err != nil {
		return fmt.Errorf("parse capabilities: %w", err)
	}
	mod := doc.Module

	m.part.PublishOperationalDescription(amm.OperationalDescription{
		Name:               mod.Name,
		Model:              mod.Model,
		Manufacturer:       mod.Manufacturer,
		SerialNumber:       mod.SerialNumber,
		ModuleVersion:      mod.ModuleVersion,
		CapabilitiesSchema: capabilityXML,
	})

	m.topicMu.Lock()
	m.clientTypes[sessionID] = mod.Name
	m.subscribed[sessionID] = nil
	m.published[sessionID] = nil
	m.topicMu.Unlock()

	rec := m.clientRecord(sessionID)
	rec.ClientType = mod.Name
	m.UpsertClient(rec)

	for _, cap := range mod.Capabilities {
		if len(cap.StartingSettings) > 0 {
			m.mergeSettings(cap.Name, cap.StartingSettings)
			m.PublishSettings(cap.Name)
		}

		for _, sub := range cap.SubscribedTopics {
			name := sub.Name
			if sub.NodePath != "" {
				if name == string(amm.TopicPhysiologyWaveform) {
					name = "HF_" + sub.NodePath
				} else {
					name = sub.NodePath
				}
			}
			m.addSubscription(sessionID, name)
			debug.Tracef("[%s][%s] subscribing to %s", cap.Name, sessionID, name)
		}

		for _, pub := range cap.PublishedTopics {
			m.addPublication(sessionID, pub.Name)
			debug.Tracef("[%s][%s] publishing %s", cap.Name, sessionID, pub.Name)
		}
	}
	return nil
}

// HandleSettings merges a configuration update into the equipment settings
// and republishes every capability the document names.
func (m *Manikin) HandleSettings(sessionID, settingsXML string) error {
	var doc moduleConfigDoc
	if err := xml.Unmarshal([]byte(settingsXML), &doc); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	for _, cap := range doc.Module.Capabilities {
		m.mergeSettings(cap.Name, cap.Configuration)
		m.PublishSettings(cap.Name)
	}
	return nil
}

func (m *Manikin) mergeSettings(capability string, settings []setting) {
	m.eqMu.Lock()
	defer m.eqMu.Unlock()
	inner := m.equipment[capability]
	if inner == nil {
		inner = make(map[string]string)
		m.equipment[capability] = inner
	}
	for _, s := range settings {
		inner[s.Name] = s.Value
	}
}

// PublishSettings serializes one capability's settings as k=v lines and
// emits them on the bus as InstrumentData.
func (m *Manikin) PublishSettings(capability string) {
	m.eqMu.Lock()
	keys := make([]string, 0, len(m.equipment[capability]))
	for k := range m.equipment[capability] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var payload strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&payload, "%s=%s\n", k, m.equipment[capability][k])
	}
	m.eqMu.Unlock()

	debug.Infof("publishing equipment %s settings", capability)
	m.part.PublishInstrumentData(amm.InstrumentData{
		Instrument: capability,
		Payload:    payload.String(),
	})
}

// EquipmentSetting returns one stored setting value.
func (m *Manikin) EquipmentSetting(capability, name string) (string, bool) {
	m.eqMu.Lock()
	defer m.eqMu.Unlock()
	v, ok := m.equipment[capability][name]
	return v, ok
}

// HandleStatus ingests a module status report. A HALTING_ERROR substring
// anywhere in the document marks the capability inoperative.
func (m *Manikin) HandleStatus(sessionID, statusXML string) error {
	var doc moduleStatusDoc
	if err := xml.Unmarshal([]byte(statusXML), &doc); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	value := amm.StatusOperational
	if strings.Contains(statusXML, "HALTING_ERROR") {
		value = amm.StatusInoperative
	}
	m.part.PublishStatus(amm.Status{
		ModuleID:   m.uuid,
		Capability: doc.Module.Name,
		Value:      value,
	})
	return nil
}
