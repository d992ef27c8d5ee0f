// Package amm defines the simulation bus data model and the participant
// fabric the bridge publishes and subscribes through. The Participant API
// mirrors the topic set of the AMM standard: typed publishers and typed
// subscription callbacks, one participant per manikin.
package amm

import "github.com/google/uuid"

// Topic is a named bus channel carrying one sample type.
type Topic string

const (
	TopicOperationalDescription Topic = "AMM_OperationalDescription"
	TopicModuleConfiguration    Topic = "AMM_ModuleConfiguration"
	TopicStatus                 Topic = "AMM_Status"
	TopicEventRecord            Topic = "AMM_EventRecord"
	TopicOmittedEvent           Topic = "AMM_OmittedEvent"
	TopicRenderModification     Topic = "AMM_Render_Modification"
	TopicPhysiologyModification Topic = "AMM_Physiology_Modification"
	TopicSimulationControl      Topic = "AMM_SimulationControl"
	TopicCommand                Topic = "AMM_Command"
	TopicInstrumentData         Topic = "AMM_InstrumentData"
	TopicAssessment             Topic = "AMM_Assessment"
	TopicPhysiologyValue        Topic = "AMM_PhysiologyValue"
	TopicPhysiologyWaveform     Topic = "AMM_HighFrequencyNode_Data"
)

// GenerateUUID mints a fresh identifier for events and modules.
func GenerateUUID() string {
	return uuid.NewString()
}

// FMALocation names an anatomical site from the FMA ontology.
type FMALocation struct {
	Name string
}

// PhysiologyValue is a low-frequency physiology sample (HR, lab values).
type PhysiologyValue struct {
	Name  string
	Value float64
}

// PhysiologyWaveform is a high-frequency physiology sample (ECG, pleth).
type PhysiologyWaveform struct {
	Name  string
	Value float64
}

// EventAgentType identifies who or what caused a clinical event.
type EventAgentType int

const (
	AgentUnknown EventAgentType = iota
	AgentLearner
	AgentInstructor
	AgentScenario
	AgentPhysiology
)

func (t EventAgentType) String() string {
	switch t {
	case AgentLearner:
		return "LEARNER"
	case AgentInstructor:
		return "INSTRUCTOR"
	case AgentScenario:
		return "SCENARIO"
	case AgentPhysiology:
		return "PHYSIOLOGY"
	default:
		return "UNKNOWN"
	}
}

// EventRecord describes a clinical action on the bus. Later modifications
// and assessments correlate to it through EventID fields.
type EventRecord struct {
	ID        string
	Type      string
	Location  FMALocation
	AgentID   string
	AgentType EventAgentType
	Timestamp int64
	Data      string
}

// OmittedEvent marks an action the learner should have taken but did not.
// Structurally identical to EventRecord; kept distinct because it travels
// on its own topic.
type OmittedEvent struct {
	ID        string
	Type      string
	Location  FMALocation
	AgentID   string
	AgentType EventAgentType
	Timestamp int64
	Data      string
}

// AssessmentValue grades a recorded event.
type AssessmentValue int

const (
	AssessmentOmissionError AssessmentValue = iota
	AssessmentCommissionError
	AssessmentExecutionError
	AssessmentSuccess
)

func (v AssessmentValue) String() string {
	switch v {
	case AssessmentOmissionError:
		return "OMISSION_ERROR"
	case AssessmentCommissionError:
		return "COMMISSION_ERROR"
	case AssessmentExecutionError:
		return "EXECUTION_ERROR"
	default:
		return "SUCCESS"
	}
}

// Assessment grades the event identified by EventID.
type Assessment struct {
	ID      string
	EventID string
	Value   AssessmentValue
	Comment string
}

// RenderModification changes the visual state of the manikin.
type RenderModification struct {
	ID      string
	EventID string
	Type    string
	Data    string
}

// PhysiologyModification changes the physiology engine state.
type PhysiologyModification struct {
	ID      string
	EventID string
	Type    string
	Data    string
}

// ControlType is a simulation-control verb.
type ControlType int

const (
	ControlRun ControlType = iota
	ControlHalt
	ControlReset
	ControlSave
)

// SimulationControl starts, halts, resets, or saves the simulation.
type SimulationControl struct {
	Timestamp int64
	Type      ControlType
}

// Command is a free-form control message. Messages prefixed [SYS] carry
// system subcommands interpreted by every bridge on the bus.
type Command struct {
	Message string
}

// InstrumentData carries equipment settings as a newline-separated
// key=value payload tagged with the owning instrument.
type InstrumentData struct {
	Instrument string
	Payload    string
}

// ModuleConfiguration delivers a configuration document to modules whose
// type matches Name.
type ModuleConfiguration struct {
	Name                      string
	ModuleID                  string
	Timestamp                 int64
	CapabilitiesConfiguration string
}

// OperationalDescription announces a module and its capability schema.
type OperationalDescription struct {
	Name                 string
	Description          string
	Manufacturer         string
	Model                string
	SerialNumber         string
	ModuleID             string
	ModuleVersion        string
	ConfigurationVersion string
	AMMVersion           string
	CapabilitiesSchema   string
}

// StatusValue is a module health state.
type StatusValue int

const (
	StatusOperational StatusValue = iota
	StatusInoperative
)

func (v StatusValue) String() string {
	if v == StatusInoperative {
		return "INOPERATIVE"
	}
	return "OPERATIONAL"
}

// Status reports the health of one capability of one module.
type Status struct {
	ModuleID   string
	ModuleName string
	Capability string
	Value      StatusValue
	Message    string
}
