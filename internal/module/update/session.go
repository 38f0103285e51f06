package update

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/robotsgofarming/abls/internal/module/version"
	"github.com/robotsgofarming/abls/pkg/log"
)

// Session state names mirror the statuses the version manager publishes.
const (
	stateIdle        = version.StatusIdle
	stateDownloading = version.StatusDownloading
	stateVerifying   = version.StatusVerifying
	stateFlashing    = version.StatusFlashing
	stateSuccess     = version.StatusSuccess
	stateRebooting   = version.StatusRebooting
	stateFailed      = version.StatusFailed
	stateRollback    = version.StatusRollback
)

const (
	eventStart        = "start"
	eventVerify       = "verify"
	eventFlash        = "flash"
	eventSucceed      = "succeed"
	eventReboot       = "reboot"
	eventFail         = "fail"
	eventRollback     = "rollback"
	eventRollbackDone = "rollback_done"
	eventReset        = "reset"
)

// newSessionMachine builds the update session state machine. Every state
// change is mirrored into the version manager so status queries see it
// without reaching into the orchestrator.
func newSessionMachine(versions *version.Manager) *fsm.FSM {
	return fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{stateIdle}, Dst: stateDownloading},
			{Name: eventVerify, Src: []string{stateDownloading}, Dst: stateVerifying},
			{Name: eventFlash, Src: []string{stateVerifying}, Dst: stateFlashing},
			{Name: eventSucceed, Src: []string{stateFlashing}, Dst: stateSuccess},
			{Name: eventReboot, Src: []string{stateSuccess}, Dst: stateRebooting},
			{Name: eventFail, Src: []string{stateDownloading, stateVerifying, stateFlashing, stateRollback}, Dst: stateFailed},
			{Name: eventRollback, Src: []string{stateIdle, stateFailed}, Dst: stateRollback},
			{Name: eventRollbackDone, Src: []string{stateRollback}, Dst: stateIdle},
			{Name: eventReset, Src: []string{stateFailed, stateSuccess, stateRebooting}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("Update session state changed", "from", e.Src, "to", e.Dst)
				if e.Dst == stateIdle {
					versions.Reset()
					return
				}
				versions.SetStatus(e.Dst)
			},
		},
	)
}
