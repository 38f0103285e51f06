package safety

// Result is the outcome of the safety gate. Values are stable: they appear
// in status packets and logs read by the operator tooling.
type Result uint8

const (
	ResultOk Result = iota
	ResultSystemMoving
	ResultHydraulicsActive
	ResultGpsUnavailable
	ResultUpdateInProgress
	ResultCriticalOperation
	ResultPowerInsufficient
	ResultUnknownError
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultSystemMoving:
		return "system moving"
	case ResultHydraulicsActive:
		return "hydraulics active"
	case ResultGpsUnavailable:
		return "gps unavailable"
	case ResultUpdateInProgress:
		return "update in progress"
	case ResultCriticalOperation:
		return "critical operation"
	case ResultPowerInsufficient:
		return "power insufficient"
	default:
		return "unknown error"
	}
}
