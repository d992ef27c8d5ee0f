// Package supervisor wraps the supervisorctl companion process behind an
// injectable interface so command handling can be tested without shell
// side effects.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/amm-sim/tcp-bridge/internal/debug"
)

// RTCService is the remote/WebRTC bridge service toggled by
// ENABLE_REMOTE / DISABLE_REMOTE.
const RTCService = "amm_rtc_bridge"

// PrimaryServices run on the pod member elected primary.
var PrimaryServices = []string{
	"amm_module_manager",
	"amm_physiology_manager",
	"amm_sim_manager",
	"amm_tcp_bridge",
	"amm_rest_adapter",
	"simple_assessment",
	"amm_xapi_module",
	"amm_serial_bridge",
	"amm_sound",
	"ajams_services",
}

// Runner starts, stops, and restarts supervised services.
type Runner interface {
	Start(service string) error
	Stop(service string) error
	Restart(service string) error
}

// ExecRunner shells out to supervisorctl. Transient failures (supervisor
// itself restarting) are retried with bounded exponential backoff.
type ExecRunner struct {
	// MaxElapsed bounds the retry window; zero selects the default.
	MaxElapsed time.Duration
}

func (r *ExecRunner) run(action, service string) error {
	maxElapsed := r.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 15 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = maxElapsed

	op := func() error {
		out, err := exec.Command("supervisorctl", action, service).CombinedOutput()
		if err != nil {
			return fmt.Errorf("supervisorctl %s %s: %w (%s)", action, service, err, out)
		}
		return nil
	}
	err := backoff.Retry(op, bo)
	if err != nil {
		debug.Errorf("supervisor: %v", err)
		return err
	}
	debug.Infof("supervisor: %s %s ok", action, service)
	return nil
}

func (r *ExecRunner) Start(service string) error   { return r.run("start", service) }
func (r *ExecRunner) Stop(service string) error    { return r.run("stop", service) }
func (r *ExecRunner) Restart(service string) error { return r.run("restart", service) }

// Invocation records one Runner call for assertions.
type Invocation struct {
	Action  string
	Service string
}

// Recorder is a Runner that records invocations instead of touching the
// system. Err, when set, is returned from every call.
type Recorder struct {
	mu    sync.Mutex
	Err   error
	calls []Invocation
}

func (r *Recorder) record(action, service string) error {
	r.mu.Lock()
	r.calls = append(r.calls, Invocation{Action: action, Service: service})
	r.mu.Unlock()
	return r.Err
}

func (r *Recorder) Start(service string) error   { return r.record("start", service) }
func (r *Recorder) Stop(service string) error    { return r.record("stop", service) }
func (r *Recorder) Restart(service string) error { return r.record("restart", service) }

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}
