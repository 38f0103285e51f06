// Package hal is the boundary between the update subsystem and the rest of
// the boom controller: sensor readings the safety gates consume, and the
// reboot hook the orchestrator fires after a committed update.
package hal

import (
	"fmt"
	"time"
)

// Role places a module on the boom.
type Role string

const (
	RoleLeft   Role = "left"
	RoleCentre Role = "centre"
	RoleRight  Role = "right"
)

// ParseRole maps a config string to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleLeft, RoleCentre, RoleRight:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown module role %q", s)
}

// Rebooter restarts the module. On hardware this never returns; the
// simulator returns after re-arming the process.
type Rebooter interface {
	Reboot() error
}

// HAL exposes the machine state the update subsystem reads. Readings are
// point-in-time; callers poll, they never subscribe.
type HAL interface {
	Rebooter

	// ModuleID identifies this module on the operator network.
	ModuleID() string

	// ModuleRole reports where on the boom this module sits.
	ModuleRole() Role

	// GroundSpeed returns the machine speed in m/s. An error means the
	// sensor reading is stale or unavailable.
	GroundSpeed() (float64, error)

	// GpsFixValid reports whether the position fix is currently usable.
	GpsFixValid() bool

	// HydraulicIdle returns how long the boom hydraulics have been inactive.
	HydraulicIdle() time.Duration

	// SupplyVoltage returns the measured supply rail in volts.
	SupplyVoltage() (float64, error)

	// CriticalOperationActive reports whether the controller is in a phase
	// that must not be interrupted, such as an active leveling pass.
	CriticalOperationActive() bool

	// CodeEnd returns the first flash address past the running image.
	CodeEnd() uint32
}
