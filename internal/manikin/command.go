package manikin

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amm-sim/tcp-bridge/internal/amm"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/protocol"
	"github.com/amm-sim/tcp-bridge/internal/supervisor"
)

const (
	// disabledSentinel revokes remote authorization when present.
	disabledSentinel = "/tmp/disabled"

	passwordFile = "config/session_password.txt"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// echoAct rebroadcasts a bus command to every session as an ACT line.
func (m *Manikin) echoAct(message string) {
	m.fan.Broadcast(fmt.Sprintf("%s%s;mid=%s", protocol.PrefixAction, message, m.ID))
}

// handleSysCommand interprets a bus command carrying the [SYS] prefix.
// The full original message (prefix included) is what ACT echoes carry.
func (m *Manikin) handleSysCommand(message string) {
	value := strings.TrimPrefix(message, protocol.SysPrefix)
	mid := protocol.ExtractManikinID(value, "")

	switch {
	case strings.Contains(value, "START_SIM"):
		m.setStatus(StatusRunning, false)
		m.part.PublishSimulationControl(amm.SimulationControl{Timestamp: nowMillis(), Type: amm.ControlRun})
		m.fan.Broadcast("ACT=START_SIM;mid=" + m.ID)

	case strings.Contains(value, "STOP_SIM"):
		m.setStatus(StatusNotRunning, false)
		m.part.PublishSimulationControl(amm.SimulationControl{Timestamp: nowMillis(), Type: amm.ControlHalt})
		m.fan.Broadcast("ACT=STOP_SIM;mid=" + m.ID)

	case strings.Contains(value, "PAUSE_SIM"):
		m.setStatus(StatusPaused, true)
		m.part.PublishSimulationControl(amm.SimulationControl{Timestamp: nowMillis(), Type: amm.ControlHalt})
		m.fan.Broadcast("ACT=PAUSE_SIM;mid=" + m.ID)

	case strings.Contains(value, "RESET_SIM"):
		m.setStatus(StatusNotRunning, false)
		m.fan.Broadcast("ACT=RESET_SIM;mid=" + m.ID)
		m.part.PublishSimulationControl(amm.SimulationControl{Timestamp: nowMillis(), Type: amm.ControlReset})
		m.initLabNodes()

	case strings.Contains(value, "END_SIMULATION"):
		m.setStatus(StatusNotRunning, true)
		m.part.PublishSimulationControl(amm.SimulationControl{Timestamp: nowMillis(), Type: amm.ControlHalt})
		m.fan.Broadcast("ACT=END_SIMULATION_SIM;mid=" + m.ID)

	case strings.Contains(value, "RESTART_SERVICE"):
		if mid == m.parentID || !m.podMode {
			m.serviceCommand("restart", protocol.ExtractToken(value, "service"), mid)
		} else {
			debug.Tracef("restart command for another bridge, ignoring")
		}

	case strings.Contains(value, "START_SERVICE"):
		if mid == m.parentID {
			m.serviceCommand("start", protocol.ExtractToken(value, "service"), mid)
		}

	case strings.Contains(value, "STOP_SERVICE"):
		if mid == m.parentID {
			service := protocol.ExtractToken(value, "service")
			debug.Infof("command to stop service %s", service)
			m.sup.Stop(service)
		}

	case strings.Contains(value, "DISABLE_REMOTE"):
		debug.Infof("request to disable remote / RTC")
		if err := m.sup.Stop(supervisor.RTCService); err == nil {
			m.fan.Broadcast("REMOTE=DISABLED")
		}

	case strings.Contains(value, "SET_PRIMARY"):
		if mid == m.parentID {
			m.MakePrimary()
		} else {
			m.MakeSecondary()
		}

	case strings.Contains(value, "ENABLE_REMOTE"):
		m.enableRemote(value)

	case strings.Contains(value, "UPDATE_CLIENT"):
		m.updateClient(message, value)

	case strings.Contains(value, "KICK"):
		target := strings.TrimPrefix(value, "KICK")
		target = strings.TrimLeft(target, "= ")
		debug.Infof("got kick via bus command for %s", target)
		m.RemoveClient(target)

	case strings.HasPrefix(value, protocol.LoadScenarioPrefix):
		scenario := strings.TrimPrefix(value, protocol.LoadScenarioPrefix)
		m.stateMu.Lock()
		m.scenario = scenario
		m.stateMu.Unlock()
		debug.Debugf("setting scenario: %s", scenario)
		m.sendConfigToAll(scenario)
		m.echoAct(message)

	case strings.HasPrefix(value, protocol.LoadStatePrefix):
		state := strings.TrimPrefix(value, protocol.LoadStatePrefix)
		m.stateMu.Lock()
		m.state = state
		m.stateMu.Unlock()
		debug.Debugf("setting state: %s", state)
		m.echoAct(message)

	default:
		debug.Warnf("unknown system command, echoing: %s", message)
		m.echoAct(message)
	}
}

// serviceCommand runs one supervisor action. The service name "all" is
// the promotion hook: the pod primary restarts the full service set, a
// secondary steps back.
func (m *Manikin) serviceCommand(action, service, mid string) {
	debug.Infof("command to %s service %s", action, service)
	if strings.Contains(service, "all") {
		if m.podMode && mid == m.parentID {
			m.MakePrimary()
		} else if m.podMode {
			m.MakeSecondary()
		} else {
			m.runService(action, service)
		}
		return
	}
	m.runService(action, service)
}

func (m *Manikin) runService(action, service string) {
	var err error
	switch action {
	case "start":
		err = m.sup.Start(service)
	case "stop":
		err = m.sup.Stop(service)
	default:
		err = m.sup.Restart(service)
	}
	if err != nil {
		debug.Errorf("service %s %s: %v", action, service, err)
	}
}

// MakePrimary promotes this bridge to the pod primary, starting the
// primary service set.
func (m *Manikin) MakePrimary() {
	debug.Infof("making %s into the primary", m.parentID)
	for _, service := range supervisor.PrimaryServices {
		if err := m.sup.Start(service); err != nil {
			debug.Errorf("starting %s: %v", service, err)
		}
	}
}

// MakeSecondary demotes this bridge to a pod secondary, stopping the
// primary service set.
func (m *Manikin) MakeSecondary() {
	debug.Infof("making %s into a secondary", m.parentID)
	for _, service := range supervisor.PrimaryServices {
		if err := m.sup.Stop(service); err != nil {
			debug.Errorf("stopping %s: %v", service, err)
		}
	}
}

// remoteAuthorized reports whether the sentinel file permits remote
// sessions on this core.
func remoteAuthorized() bool {
	_, err := os.Stat(disabledSentinel)
	return err != nil
}

// enableRemote persists the session password and toggles the RTC bridge
// service, broadcasting the outcome to every session.
func (m *Manikin) enableRemote(value string) {
	idx := strings.Index(value, "ENABLE_REMOTE")
	remoteData := value[idx+len("ENABLE_REMOTE"):]
	remoteData = strings.TrimLeft(remoteData, "= ")
	kvp := protocol.ParseKVP(remoteData)

	password, ok := kvp["password"]
	if !ok {
		debug.Warnf("no password set, ignoring ENABLE_REMOTE")
		return
	}
	m.pwMu.Lock()
	m.sessionPassword = password
	m.pwMu.Unlock()
	if err := writePassword(password); err != nil {
		debug.Errorf("persisting session password: %v", err)
	}

	if !remoteAuthorized() {
		debug.Warnf("core not authorized for REMOTE")
		m.sup.Stop(supervisor.RTCService)
		m.fan.Broadcast("REMOTE=REJECTED")
		return
	}

	debug.Infof("request to enable remote / RTC")
	if err := m.sup.Restart(supervisor.RTCService); err == nil {
		m.fan.Broadcast("REMOTE=ENABLED")
	} else {
		m.fan.Broadcast("REMOTE=DISABLED")
	}
}

func writePassword(password string) error {
	if err := os.MkdirAll(filepath.Dir(passwordFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(passwordFile, []byte(password), 0o600)
}

// SessionPassword returns the password persisted by ENABLE_REMOTE.
func (m *Manikin) SessionPassword() string {
	m.pwMu.Lock()
	defer m.pwMu.Unlock()
	return m.sessionPassword
}

// updateClient upserts the client table row carried in an UPDATE_CLIENT
// command and rebroadcasts the original message as an ACT line.
func (m *Manikin) updateClient(original, value string) {
	idx := strings.Index(value, "UPDATE_CLIENT")
	clientData := value[idx+len("UPDATE_CLIENT"):]
	clientData = strings.TrimLeft(clientData, "= ")
	kvp := protocol.ParseKVP(clientData)

	clientID, ok := kvp["client_id"]
	if !ok {
		debug.Warnf("no client ID found, ignoring UPDATE_CLIENT")
		return
	}

	rec := m.clientRecord(clientID)
	if v, ok := kvp["client_name"]; ok {
		rec.ClientName = v
	}
	if v, ok := kvp["learner_name"]; ok {
		rec.LearnerName = v
	}
	if v, ok := kvp["client_connection"]; ok {
		rec.Connection = v
	}
	if v, ok := kvp["client_type"]; ok {
		rec.ClientType = v
	}
	if v, ok := kvp["role"]; ok {
		rec.Role = v
	}
	if v, ok := kvp["client_status"]; ok {
		rec.Status = v
	}
	if v, ok := kvp["connect_time"]; ok {
		if t, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.ConnectTime = t
		}
	}
	m.UpsertClient(rec)
	m.echoAct(original)
}
