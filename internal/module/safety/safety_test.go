package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/pkg/options"
)

func newTestManager(t *testing.T, role hal.Role) (*Manager, *hal.SimHAL) {
	t.Helper()
	h := hal.NewSimHAL(role, 0x6000_0000)
	return NewManager(h, options.NewSafetyOptions()), h
}

func TestCheckGateOrder(t *testing.T) {
	tests := []struct {
		name  string
		role  hal.Role
		setup func(h *hal.SimHAL)
		want  Result
	}{
		{
			name:  "parked machine passes",
			role:  hal.RoleCentre,
			setup: func(h *hal.SimHAL) {},
			want:  ResultOk,
		},
		{
			name: "moving",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetSpeed(1.4, nil)
			},
			want: ResultSystemMoving,
		},
		{
			name: "moving outranks low voltage",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetSpeed(1.4, nil)
				h.SetVoltage(10.0, nil)
			},
			want: ResultSystemMoving,
		},
		{
			name: "hydraulics recently active on centre module",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.TouchHydraulics()
			},
			want: ResultHydraulicsActive,
		},
		{
			name: "hydraulics ignored on wing module",
			role: hal.RoleLeft,
			setup: func(h *hal.SimHAL) {
				h.TouchHydraulics()
			},
			want: ResultOk,
		},
		{
			name: "no gps fix",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetGpsValid(false)
			},
			want: ResultGpsUnavailable,
		},
		{
			name: "speed reading unavailable",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetSpeed(0, errors.New("no velocity solution"))
			},
			want: ResultGpsUnavailable,
		},
		{
			name: "low voltage",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetVoltage(11.2, nil)
			},
			want: ResultPowerInsufficient,
		},
		{
			name: "voltage exactly at threshold passes",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetVoltage(11.5, nil)
			},
			want: ResultOk,
		},
		{
			name: "critical operation",
			role: hal.RoleCentre,
			setup: func(h *hal.SimHAL) {
				h.SetCriticalOperation(true)
			},
			want: ResultCriticalOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, h := newTestManager(t, tt.role)
			tt.setup(h)
			if got := m.Check(); got != tt.want {
				t.Fatalf("Check() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpdateInProgressWinsOverSensors(t *testing.T) {
	m, h := newTestManager(t, hal.RoleCentre)

	if _, err := m.EnterUpdateMode(); err != nil {
		t.Fatalf("EnterUpdateMode: %v", err)
	}
	if got := m.Mode(); got != ModeActive {
		t.Fatalf("mode = %s, want %s", got, ModeActive)
	}

	// With every sensor misbehaving, the gate must still report the update.
	h.SetSpeed(0, errors.New("sensor dead"))
	h.SetGpsValid(false)
	h.SetVoltage(0, errors.New("sensor dead"))

	if got := m.Check(); got != ResultUpdateInProgress {
		t.Fatalf("Check() during update = %s, want %s", got, ResultUpdateInProgress)
	}
}

func TestEnterUpdateModeRefusedWhenUnsafe(t *testing.T) {
	m, h := newTestManager(t, hal.RoleCentre)
	h.SetSpeed(2.0, nil)

	r, err := m.EnterUpdateMode()
	if err == nil {
		t.Fatal("EnterUpdateMode succeeded on a moving machine")
	}
	if r != ResultSystemMoving {
		t.Fatalf("result = %s, want %s", r, ResultSystemMoving)
	}
	if got := m.Mode(); got != ModeNormal {
		t.Fatalf("mode = %s, want %s", got, ModeNormal)
	}
}

type fakeSubsystem struct {
	name      string
	suspended bool
	resumed   bool
	failSusp  error
}

func (f *fakeSubsystem) Name() string { return f.name }
func (f *fakeSubsystem) Suspend() error {
	if f.failSusp != nil {
		return f.failSusp
	}
	f.suspended = true
	return nil
}
func (f *fakeSubsystem) Resume() error {
	f.resumed = true
	return nil
}

func TestSuspendResumeAroundUpdate(t *testing.T) {
	m, _ := newTestManager(t, hal.RoleLeft)
	sub := &fakeSubsystem{name: "leveling"}
	m.RegisterSuspendable(sub)

	if _, err := m.EnterUpdateMode(); err != nil {
		t.Fatalf("EnterUpdateMode: %v", err)
	}
	if !sub.suspended {
		t.Fatal("subsystem not suspended entering update mode")
	}
	if err := m.ExitUpdateMode(); err != nil {
		t.Fatalf("ExitUpdateMode: %v", err)
	}
	if !sub.resumed {
		t.Fatal("subsystem not resumed leaving update mode")
	}
	if got := m.Mode(); got != ModeNormal {
		t.Fatalf("mode = %s, want %s", got, ModeNormal)
	}
}

func TestEnterUpdateModeSuspendFailureUnwinds(t *testing.T) {
	m, _ := newTestManager(t, hal.RoleLeft)
	sub := &fakeSubsystem{name: "leveling", failSusp: errors.New("bus timeout")}
	m.RegisterSuspendable(sub)

	if _, err := m.EnterUpdateMode(); err == nil {
		t.Fatal("EnterUpdateMode succeeded despite suspend failure")
	}
	if got := m.Mode(); got != ModeNormal {
		t.Fatalf("mode = %s, want %s", got, ModeNormal)
	}
}

func TestTickTriggersEmergencyAbort(t *testing.T) {
	m, h := newTestManager(t, hal.RoleCentre)
	sub := &fakeSubsystem{name: "leveling"}
	m.RegisterSuspendable(sub)

	var aborted Result
	m.OnEmergencyAbort(func(r Result) { aborted = r })

	if _, err := m.EnterUpdateMode(); err != nil {
		t.Fatalf("EnterUpdateMode: %v", err)
	}

	// Nothing wrong yet: the monitor stays quiet.
	m.Tick()
	if got := m.Mode(); got != ModeActive {
		t.Fatalf("mode after clean tick = %s, want %s", got, ModeActive)
	}

	// The machine starts moving mid-update.
	h.SetSpeed(0.5, nil)
	m.Tick()

	if aborted != ResultSystemMoving {
		t.Fatalf("emergency abort reason = %s, want %s", aborted, ResultSystemMoving)
	}
	if got := m.Mode(); got != ModeNormal {
		t.Fatalf("mode after abort = %s, want %s", got, ModeNormal)
	}
	if !sub.resumed {
		t.Fatal("subsystem not resumed by emergency abort")
	}
}

func TestTickIdleOutsideUpdate(t *testing.T) {
	m, h := newTestManager(t, hal.RoleCentre)
	fired := false
	m.OnEmergencyAbort(func(Result) { fired = true })

	h.SetSpeed(3.0, nil)
	m.Tick()

	if fired {
		t.Fatal("monitor fired outside an active update")
	}
}

func TestThresholdSetters(t *testing.T) {
	m, h := newTestManager(t, hal.RoleCentre)

	h.SetSpeed(0.3, nil)
	if got := m.Check(); got != ResultSystemMoving {
		t.Fatalf("Check() = %s, want %s", got, ResultSystemMoving)
	}

	m.SetStationarySpeedThreshold(0.5)
	if got := m.Check(); got != ResultOk {
		t.Fatalf("Check() after raising threshold = %s, want %s", got, ResultOk)
	}

	m.SetMinimumVoltage(13.0)
	if got := m.Check(); got != ResultPowerInsufficient {
		t.Fatalf("Check() after raising voltage floor = %s, want %s", got, ResultPowerInsufficient)
	}

	m.SetMinimumVoltage(11.5)
	m.SetHydraulicIdleTimeout(time.Nanosecond)
	h.TouchHydraulics()
	time.Sleep(time.Millisecond)
	if got := m.Check(); got != ResultOk {
		t.Fatalf("Check() after shrinking idle timeout = %s, want %s", got, ResultOk)
	}
}

func TestCheckReportsBoundSession(t *testing.T) {
	m, _ := newTestManager(t, hal.RoleCentre)

	live := false
	m.BindSession(func() bool { return live })

	if got := m.Check(); got != ResultOk {
		t.Fatalf("Check() = %s, want %s", got, ResultOk)
	}

	// Safety mode is already back to Normal but the session has not reached
	// a terminal state yet, as during the reboot window.
	live = true
	if got := m.Check(); got != ResultUpdateInProgress {
		t.Fatalf("Check() with live session = %s, want %s", got, ResultUpdateInProgress)
	}
	if got := m.LastResult(); got != ResultUpdateInProgress {
		t.Fatalf("LastResult() = %s, want %s", got, ResultUpdateInProgress)
	}

	live = false
	if got := m.Check(); got != ResultOk {
		t.Fatalf("Check() after session ended = %s, want %s", got, ResultOk)
	}
}
