// Package safety decides whether it is physically and electrically safe to
// flash firmware right now, and keeps watching once an update is under way.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
)

// Safety modes. Normal is everyday operation; Preparing and Active bracket
// an update; Recovery is the short window in which an emergency abort tears
// the update down.
const (
	ModeNormal    = "normal"
	ModePreparing = "preparing"
	ModeActive    = "active"
	ModeRecovery  = "recovery"
)

const (
	eventPrepare  = "prepare"
	eventEngage   = "engage"
	eventComplete = "complete"
	eventAbort    = "abort"
	eventRecover  = "recover"
)

// Suspendable is a subsystem paused for the duration of an update, such as
// the leveling control output or non-essential telemetry.
type Suspendable interface {
	Name() string
	Suspend() error
	Resume() error
}

// Manager is the update safety gate. It is owned by the module control loop:
// every method is called from that single goroutine.
type Manager struct {
	hal     hal.HAL
	machine *fsm.FSM

	stationarySpeed float64
	hydraulicIdle   time.Duration
	minimumVoltage  float64

	// ownsHydraulics limits the hydraulic-idle gate to the module role that
	// drives the boom cylinders.
	ownsHydraulics bool

	suspended   []Suspendable
	onEmergency func(Result)

	// sessionActive reports whether an update session exists in any
	// non-terminal state. The gate consults it because the safety mode
	// returns to Normal before the session finishes its reboot window.
	sessionActive func() bool

	lastResult Result
}

// NewManager builds the safety gate from the configured thresholds. The
// centre module owns hydraulic control; left and right modules skip the
// hydraulic-idle gate.
func NewManager(h hal.HAL, opts *options.SafetyOptions) *Manager {
	m := &Manager{
		hal:             h,
		stationarySpeed: opts.StationarySpeedThreshold,
		hydraulicIdle:   opts.HydraulicIdleTimeout,
		minimumVoltage:  opts.MinimumVoltage,
		ownsHydraulics:  h.ModuleRole() == hal.RoleCentre,
	}

	m.machine = fsm.NewFSM(
		ModeNormal,
		fsm.Events{
			{Name: eventPrepare, Src: []string{ModeNormal}, Dst: ModePreparing},
			{Name: eventEngage, Src: []string{ModePreparing}, Dst: ModeActive},
			{Name: eventComplete, Src: []string{ModeActive, ModePreparing}, Dst: ModeNormal},
			{Name: eventAbort, Src: []string{ModeActive, ModePreparing}, Dst: ModeRecovery},
			{Name: eventRecover, Src: []string{ModeRecovery}, Dst: ModeNormal},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Info("Safety mode changed", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return m
}

// Mode returns the current safety mode.
func (m *Manager) Mode() string {
	return m.machine.Current()
}

// LastResult returns the outcome of the most recent gate evaluation.
func (m *Manager) LastResult() Result {
	return m.lastResult
}

// RegisterSuspendable adds a subsystem to pause while an update is active.
func (m *Manager) RegisterSuspendable(s Suspendable) {
	m.suspended = append(m.suspended, s)
}

// OnEmergencyAbort installs the hook fired when the monitor trips while an
// update is active. The orchestrator uses it to shut down in-flight work.
func (m *Manager) OnEmergencyAbort(fn func(Result)) {
	m.onEmergency = fn
}

// BindSession gives the in-progress gate a view of the update session, so
// Check reports an update whenever a session is live, not only while the
// safety mode itself is non-Normal.
func (m *Manager) BindSession(active func() bool) {
	m.sessionActive = active
}

// SetStationarySpeedThreshold adjusts the stationary gate at runtime.
func (m *Manager) SetStationarySpeedThreshold(v float64) { m.stationarySpeed = v }

// SetHydraulicIdleTimeout adjusts the hydraulic-idle gate at runtime.
func (m *Manager) SetHydraulicIdleTimeout(d time.Duration) { m.hydraulicIdle = d }

// SetMinimumVoltage adjusts the supply-voltage gate at runtime.
func (m *Manager) SetMinimumVoltage(v float64) { m.minimumVoltage = v }

// Check runs the full safety gate, first failure wins. The in-progress gate
// is evaluated before any sensor so a transient sensor dropout during an
// active update can never be misreported as a fresh go-ahead.
func (m *Manager) Check() Result {
	if m.Mode() != ModeNormal || (m.sessionActive != nil && m.sessionActive()) {
		m.lastResult = ResultUpdateInProgress
		return m.lastResult
	}
	m.lastResult = m.checkSensors()
	return m.lastResult
}

// MonitorCheck evaluates only the sensor-backed gates, skipping the
// in-progress gate. It is the recheck the orchestrator runs between flash
// bursts while update mode is active.
func (m *Manager) MonitorCheck() Result {
	return m.checkSensors()
}

// checkSensors evaluates the sensor-backed gates, in order: stationary,
// hydraulics idle, GPS valid, power sufficient, no critical operation.
func (m *Manager) checkSensors() Result {
	speed, speedErr := m.hal.GroundSpeed()
	if speedErr == nil && speed > m.stationarySpeed {
		return ResultSystemMoving
	}

	if m.ownsHydraulics && m.hal.HydraulicIdle() < m.hydraulicIdle {
		return ResultHydraulicsActive
	}

	if speedErr != nil || !m.hal.GpsFixValid() {
		return ResultGpsUnavailable
	}

	voltage, err := m.hal.SupplyVoltage()
	if err != nil {
		return ResultUnknownError
	}
	if voltage < m.minimumVoltage {
		return ResultPowerInsufficient
	}

	if m.hal.CriticalOperationActive() {
		return ResultCriticalOperation
	}

	return ResultOk
}

// EnterUpdateMode re-runs the gate and, on pass, moves the module into
// Active update mode, suspending the registered subsystems on the way.
func (m *Manager) EnterUpdateMode() (Result, error) {
	if r := m.Check(); r != ResultOk {
		return r, fmt.Errorf("safety gate refused update: %s", r)
	}

	ctx := context.Background()
	if err := m.machine.Event(ctx, eventPrepare); err != nil {
		return ResultUnknownError, err
	}

	for _, s := range m.suspended {
		if err := s.Suspend(); err != nil {
			log.Error(err, "Failed to suspend subsystem, aborting update mode", "subsystem", s.Name())
			m.resumeAll()
			_ = m.machine.Event(ctx, eventComplete)
			return ResultUnknownError, err
		}
		log.Debug("Suspended subsystem for update", "subsystem", s.Name())
	}

	if err := m.machine.Event(ctx, eventEngage); err != nil {
		m.resumeAll()
		return ResultUnknownError, err
	}
	return ResultOk, nil
}

// ExitUpdateMode leaves update mode after a normal completion or failure and
// resumes the suspended subsystems.
func (m *Manager) ExitUpdateMode() error {
	if m.Mode() == ModeNormal {
		return nil
	}
	m.resumeAll()
	return m.machine.Event(context.Background(), eventComplete)
}

// Tick is the continuous monitor. While an update is active it re-runs the
// sensor gates; any failure triggers the emergency abort path.
func (m *Manager) Tick() {
	if m.Mode() != ModeActive {
		return
	}
	if r := m.checkSensors(); r != ResultOk {
		log.Warn("Safety monitor tripped during active update", "reason", r.String())
		m.EmergencyAbort(r)
	}
}

// EmergencyAbort is the last line of defense: it fires the orchestrator's
// emergency hook, resumes the suspended subsystems and forces the mode back
// to Normal through Recovery.
func (m *Manager) EmergencyAbort(reason Result) {
	ctx := context.Background()
	if err := m.machine.Event(ctx, eventAbort); err != nil {
		log.Error(err, "Emergency abort requested outside an update", "reason", reason.String())
		return
	}
	m.lastResult = reason

	if m.onEmergency != nil {
		m.onEmergency(reason)
	}
	m.resumeAll()

	if err := m.machine.Event(ctx, eventRecover); err != nil {
		log.Error(err, "Failed to leave recovery mode")
	}
}

func (m *Manager) resumeAll() {
	for _, s := range m.suspended {
		if err := s.Resume(); err != nil {
			log.Error(err, "Failed to resume subsystem", "subsystem", s.Name())
		}
	}
}
