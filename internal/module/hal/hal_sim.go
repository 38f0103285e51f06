package hal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robotsgofarming/abls/pkg/log"
)

// SimHAL is the software stand-in for the machine: every reading is a field
// a test or the simulator console can set. The zero state describes a parked
// machine that passes all safety gates.
type SimHAL struct {
	id   string
	role Role

	mu                sync.Mutex
	speed             float64
	speedErr          error
	gpsValid          bool
	hydraulicLastMove time.Time
	voltage           float64
	voltageErr        error
	critical          bool
	codeEnd           uint32

	rebooted  chan struct{}
	rebootErr error
}

var _ HAL = (*SimHAL)(nil)

// NewSimHAL builds a simulated module. The module ID comes from
// ABLS_MODULE_ID when set, otherwise it is derived from the role.
func NewSimHAL(role Role, codeEnd uint32) *SimHAL {
	id := os.Getenv("ABLS_MODULE_ID")
	if id == "" {
		id = fmt.Sprintf("abls-%s", role)
	}

	return &SimHAL{
		id:                id,
		role:              role,
		gpsValid:          true,
		hydraulicLastMove: time.Now().Add(-time.Hour),
		voltage:           12.6,
		codeEnd:           codeEnd,
		rebooted:          make(chan struct{}, 1),
	}
}

func (h *SimHAL) ModuleID() string { return h.id }

func (h *SimHAL) ModuleRole() Role { return h.role }

func (h *SimHAL) GroundSpeed() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speed, h.speedErr
}

func (h *SimHAL) GpsFixValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gpsValid
}

func (h *SimHAL) HydraulicIdle() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.hydraulicLastMove)
}

func (h *SimHAL) SupplyVoltage() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.voltage, h.voltageErr
}

func (h *SimHAL) CriticalOperationActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.critical
}

func (h *SimHAL) CodeEnd() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.codeEnd
}

// Reboot records the reboot request instead of restarting anything. Tests
// observe it through Rebooted.
func (h *SimHAL) Reboot() error {
	h.mu.Lock()
	err := h.rebootErr
	h.mu.Unlock()
	if err != nil {
		return err
	}

	log.Warn("Simulated reboot requested", "module", h.id)
	select {
	case h.rebooted <- struct{}{}:
	default:
	}
	return nil
}

// Rebooted signals once per requested reboot.
func (h *SimHAL) Rebooted() <-chan struct{} { return h.rebooted }

// SetSpeed sets the ground speed reading. err marks the reading unavailable.
func (h *SimHAL) SetSpeed(v float64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speed, h.speedErr = v, err
}

// SetGpsValid sets the position fix state.
func (h *SimHAL) SetGpsValid(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gpsValid = ok
}

// TouchHydraulics records hydraulic activity now, resetting the idle clock.
func (h *SimHAL) TouchHydraulics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hydraulicLastMove = time.Now()
}

// SetHydraulicIdle backdates the last hydraulic activity by d.
func (h *SimHAL) SetHydraulicIdle(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hydraulicLastMove = time.Now().Add(-d)
}

// SetVoltage sets the supply rail reading. err marks the reading unavailable.
func (h *SimHAL) SetVoltage(v float64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voltage, h.voltageErr = v, err
}

// SetCriticalOperation sets the leveling-pass flag.
func (h *SimHAL) SetCriticalOperation(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.critical = on
}

// FailNextReboot makes subsequent Reboot calls return err.
func (h *SimHAL) FailNextReboot(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebootErr = err
}
