// Package update runs the firmware update workflow: reserve scratch flash,
// download, validate, back up, flash, verify, reboot. One session at a time,
// strictly ordered steps, and no automatic rollback.
package update

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/robotsgofarming/abls/internal/module/backup"
	"github.com/robotsgofarming/abls/internal/module/flash"
	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/internal/module/safety"
	"github.com/robotsgofarming/abls/internal/module/version"
	"github.com/robotsgofarming/abls/pkg/log"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

// MaxFirmwareSize bounds a single image. Anything larger is rejected before
// any flash is touched.
const MaxFirmwareSize = 2 * 1024 * 1024

// ErrAborted reports a session stopped by the operator or the safety
// monitor between steps or chunks; it is not a step failure.
var ErrAborted = errors.New("update: aborted")

// safetyTickEvery is how many copied chunks pass between safety monitor
// rechecks during download and flash.
const safetyTickEvery = 16

// Request is a validated START_UPDATE.
type Request struct {
	URL     string
	SHA256  string
	Size    uint32
	Version fw.Version
}

// Orchestrator drives update sessions. The workflow methods run on the
// module control loop; only Abort may be called from another goroutine.
type Orchestrator struct {
	dev      flash.Device
	hw       hal.HAL
	safety   *safety.Manager
	backups  *backup.Manager
	versions *version.Manager

	machine *fsm.FSM
	client  *http.Client

	scratch    flash.Region
	hasScratch bool

	abortMu     sync.Mutex
	aborted     bool
	abortReason string

	rebootDelay time.Duration
}

// NewOrchestrator wires the workflow to its collaborators and registers the
// safety monitor's emergency hook.
func NewOrchestrator(dev flash.Device, hw hal.HAL, sm *safety.Manager, bm *backup.Manager, vm *version.Manager) *Orchestrator {
	o := &Orchestrator{
		dev:         dev,
		hw:          hw,
		safety:      sm,
		backups:     bm,
		versions:    vm,
		machine:     newSessionMachine(vm),
		client:      newDownloadClient(),
		rebootDelay: 2 * time.Second,
	}
	sm.OnEmergencyAbort(func(r safety.Result) {
		o.requestAbort("safety monitor: " + r.String())
	})
	sm.BindSession(o.Busy)
	return o
}

// SetRebootDelay adjusts the pause between the final status update and the
// hardware reset.
func (o *Orchestrator) SetRebootDelay(d time.Duration) {
	o.rebootDelay = d
}

// State returns the session state.
func (o *Orchestrator) State() string {
	return o.machine.Current()
}

// Busy reports whether a session or rollback is running or a reboot is
// pending. A Failed session is not busy: the operator may retry.
func (o *Orchestrator) Busy() bool {
	switch o.machine.Current() {
	case stateIdle, stateFailed:
		return false
	}
	return true
}

// Abort asks the running session to stop at the next step or chunk
// boundary. An in-progress erase or write burst always runs to completion.
func (o *Orchestrator) Abort() {
	o.requestAbort("operator request")
}

func (o *Orchestrator) requestAbort(reason string) {
	o.abortMu.Lock()
	defer o.abortMu.Unlock()
	if !o.aborted {
		o.aborted = true
		o.abortReason = reason
		log.Warn("Update abort requested", "reason", reason)
	}
}

func (o *Orchestrator) clearAbort() {
	o.abortMu.Lock()
	defer o.abortMu.Unlock()
	o.aborted = false
	o.abortReason = ""
}

func (o *Orchestrator) checkAborted() error {
	o.abortMu.Lock()
	defer o.abortMu.Unlock()
	if o.aborted {
		return fmt.Errorf("%w: %s", ErrAborted, o.abortReason)
	}
	return nil
}

// ValidateRequest applies the static checks START_UPDATE handling performs
// before any flash buffer is allocated.
func ValidateRequest(req Request) error {
	if req.URL == "" {
		return fmt.Errorf("%w: empty firmware url", ErrInvalidFirmware)
	}
	if req.Size == 0 {
		return fmt.Errorf("%w: zero firmware size", ErrInvalidFirmware)
	}
	if req.Size > MaxFirmwareSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidFirmware, req.Size, MaxFirmwareSize)
	}
	if len(req.SHA256) != sha256.Size*2 {
		return fmt.Errorf("%w: hash is %d chars, want %d", ErrInvalidFirmware, len(req.SHA256), sha256.Size*2)
	}
	if _, err := hex.DecodeString(req.SHA256); err != nil {
		return fmt.Errorf("%w: hash is not hex: %v", ErrInvalidFirmware, err)
	}
	return nil
}

// StartUpdate runs one complete update session. It blocks the calling
// goroutine for the duration; failures leave the session in Failed with the
// error recorded, and never roll back on their own.
func (o *Orchestrator) StartUpdate(ctx context.Context, req Request) error {
	if o.Busy() {
		return fmt.Errorf("update session already active in state %s", o.machine.Current())
	}
	if err := ValidateRequest(req); err != nil {
		return err
	}
	if o.machine.Current() == stateFailed {
		if err := o.machine.Event(ctx, eventReset); err != nil {
			return err
		}
	}
	o.clearAbort()

	if result, err := o.safety.EnterUpdateMode(); err != nil {
		err = fmt.Errorf("%w: %s", ErrSafetyCheckFailed, result)
		o.versions.SetError(err)
		return err
	}

	if err := o.machine.Event(ctx, eventStart); err != nil {
		_ = o.safety.ExitUpdateMode()
		return err
	}

	log.Info("Update session started", "url", req.URL, "size", req.Size, "version", req.Version.String())
	if err := o.run(ctx, req); err != nil {
		o.fail(ctx, err)
		return err
	}
	return nil
}

// run executes the ordered steps of one session. Any error aborts the rest.
func (o *Orchestrator) run(ctx context.Context, req Request) error {
	scratch, err := o.createFlashBuffer(req.Size)
	if err != nil {
		return err
	}

	if err := o.download(ctx, scratch, req.URL, req.Size); err != nil {
		return err
	}

	if err := o.machine.Event(ctx, eventVerify); err != nil {
		return err
	}
	if err := o.validate(scratch, req); err != nil {
		return err
	}

	if err := o.machine.Event(ctx, eventFlash); err != nil {
		return err
	}
	imageCRC, err := o.flashImage(scratch, req)
	if err != nil {
		return err
	}
	if err := o.verifyFlashed(req, imageCRC); err != nil {
		return err
	}

	return o.complete(ctx)
}

// createFlashBuffer reserves and erases the scratch region above the
// running code.
func (o *Orchestrator) createFlashBuffer(size uint32) (flash.Region, error) {
	scratch, err := flash.AllocScratch(o.dev, o.hw.CodeEnd(), size)
	if err != nil {
		if errors.Is(err, flash.ErrScratchTooSmall) {
			return flash.Region{}, fmt.Errorf("%w: %v", ErrInsufficientSpace, err)
		}
		return flash.Region{}, fmt.Errorf("%w: %v", ErrBufferInitFailed, err)
	}
	o.scratch = scratch
	o.hasScratch = true
	log.Debug("Flash scratch buffer ready", "base", fmt.Sprintf("%#x", scratch.Base()), "size", scratch.Size())
	return scratch, nil
}

// validate checks the downloaded image: SHA-256 against the command hash,
// the platform identifier, and the legacy CRC32 for field comparison.
func (o *Orchestrator) validate(scratch flash.Region, req Request) error {
	want, err := hex.DecodeString(req.SHA256)
	if err != nil {
		return fmt.Errorf("%w: hash is not hex: %v", ErrInvalidFirmware, err)
	}

	// Hash what actually landed in flash, not what passed through RAM.
	h := sha256.New()
	chunk := o.dev.Geometry().SectorSize
	for off := uint32(0); off < req.Size; off += chunk {
		n := chunk
		if req.Size-off < n {
			n = req.Size - off
		}
		data, err := scratch.ReadAt(off, n)
		if err != nil {
			return fmt.Errorf("%w: scratch read: %v", ErrValidationFailed, err)
		}
		h.Write(data)
	}
	got := h.Sum(nil)
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: sha256 mismatch: image %x, command %x", ErrValidationFailed, got, want)
	}

	ok, err := scratch.ContainsTargetID(req.Size)
	if err != nil {
		return fmt.Errorf("%w: scratch read: %v", ErrValidationFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: platform id %q not found in image", ErrValidationFailed, flash.TargetID)
	}

	// Legacy checksum, logged for comparison against the build manifest. A
	// CRC disagreement alone never fails a session that passed SHA-256.
	crc, err := scratch.CRC32(req.Size)
	if err == nil {
		log.Info("Firmware validated", "sha256", fmt.Sprintf("%x", got), "crc32", fmt.Sprintf("%#x", crc))
	}

	if cur := o.versions.Current(); !req.Version.Newer(cur) {
		log.Warn("Image version does not advance the module", "image", req.Version.String(), "running", cur.String())
	}
	return nil
}

// flashImage re-runs the safety gate, takes a best-effort backup, then
// erases and rewrites the current bank from the scratch region. Returns the
// CRC of the scratch image for post-flash verification.
func (o *Orchestrator) flashImage(scratch flash.Region, req Request) (uint32, error) {
	if r := o.safety.MonitorCheck(); r != safety.ResultOk {
		return 0, fmt.Errorf("%w: %s", ErrSafetyCheckFailed, r)
	}

	if err := o.backups.BackupCurrentFirmware(); err != nil {
		// Non-fatal: the update proceeds, but a failed flash now has no
		// restore path until the next successful backup.
		log.Warn("Pre-flash backup failed, continuing without a restore point", "err", err)
	}

	geom := o.dev.Geometry()
	if req.Size > scratch.Base()-geom.CurrentBankBase() {
		return 0, fmt.Errorf("%w: image of %d bytes would overwrite the scratch region", ErrInsufficientSpace, req.Size)
	}

	imageCRC, err := scratch.CRC32(req.Size)
	if err != nil {
		return 0, fmt.Errorf("%w: scratch read: %v", ErrFlashFailed, err)
	}

	current, err := flash.NewRegion(o.dev, geom.CurrentBankBase(), geom.BankSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFlashFailed, err)
	}
	if err := current.ClearSentinel(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFlashFailed, err)
	}
	if err := current.EraseSectors(geom.SectorsFor(req.Size)); err != nil {
		return 0, fmt.Errorf("%w: erase: %v", ErrFlashFailed, err)
	}

	chunk := geom.SectorSize
	var copied uint32
	for i := 0; copied < req.Size; i++ {
		if i%safetyTickEvery == 0 {
			o.safety.Tick()
		}
		if err := o.checkAborted(); err != nil {
			return 0, err
		}

		n := chunk
		if req.Size-copied < n {
			n = req.Size - copied
		}
		data, err := scratch.ReadAt(copied, n)
		if err != nil {
			return 0, fmt.Errorf("%w: scratch read: %v", ErrFlashFailed, err)
		}
		if err := current.WriteAt(copied, data); err != nil {
			return 0, fmt.Errorf("%w: write at %#x: %v", ErrFlashFailed, copied, err)
		}
		copied += n
		o.versions.SetProgress(int(uint64(copied) * 100 / uint64(req.Size)))
	}

	return imageCRC, nil
}

// verifyFlashed re-checks the just-written bank and commits it with a
// sentinel.
func (o *Orchestrator) verifyFlashed(req Request, imageCRC uint32) error {
	geom := o.dev.Geometry()
	current, err := flash.NewRegion(o.dev, geom.CurrentBankBase(), geom.BankSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	ok, err := current.ContainsTargetID(req.Size)
	if err != nil {
		return fmt.Errorf("%w: read back: %v", ErrVerificationFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: platform id %q missing after flash", ErrVerificationFailed, flash.TargetID)
	}

	crc, err := current.CRC32(req.Size)
	if err != nil {
		return fmt.Errorf("%w: read back: %v", ErrVerificationFailed, err)
	}
	if crc != imageCRC {
		return fmt.Errorf("%w: flashed crc %#x, image crc %#x", ErrVerificationFailed, crc, imageCRC)
	}

	sentinel := flash.Sentinel{
		Size:      req.Size,
		CRC:       imageCRC,
		Major:     req.Version.Major,
		Minor:     req.Version.Minor,
		Patch:     req.Version.Patch,
		Build:     req.Version.Build,
		FlashedAt: uint32(time.Now().Unix()),
	}
	if err := current.WriteSentinel(sentinel); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrVerificationFailed, err)
	}

	o.backups.Invalidate()
	return nil
}

// complete frees the scratch region, reports success, and reboots into the
// new firmware after a short delay so the final status can be transmitted.
func (o *Orchestrator) complete(ctx context.Context) error {
	if err := o.machine.Event(ctx, eventSucceed); err != nil {
		return err
	}
	o.versions.SetProgress(100)
	o.freeScratch()
	_ = o.safety.ExitUpdateMode()

	if err := o.machine.Event(ctx, eventReboot); err != nil {
		return err
	}
	log.Info("Update complete, rebooting", "delay", o.rebootDelay)

	time.Sleep(o.rebootDelay)
	if err := o.hw.Reboot(); err != nil {
		log.Error(err, "Reboot request failed after successful update")
		return nil
	}

	// On hardware Reboot never returns. The simulator does, standing in for
	// the restarted process, so the session re-arms for the next run.
	if err := o.machine.Event(ctx, eventReset); err != nil {
		log.Error(err, "Failed to re-arm session after simulated reboot")
	}
	return nil
}

// fail tears the session down: scratch freed, error recorded, safety mode
// restored. It never rolls back on its own.
func (o *Orchestrator) fail(ctx context.Context, cause error) {
	log.Error(cause, "Update session failed", "state", o.machine.Current())

	o.freeScratch()
	o.versions.SetError(cause)
	if err := o.machine.Event(ctx, eventFail); err != nil {
		log.Error(err, "Failed to mark session failed")
	}
	_ = o.safety.ExitUpdateMode()
}

func (o *Orchestrator) freeScratch() {
	if !o.hasScratch {
		return
	}
	if err := flash.FreeScratch(o.scratch); err != nil {
		log.Warn("Failed to erase scratch region", "err", err)
	}
	o.hasScratch = false
}

// Rollback restores the backup bank over the current bank and reboots. It
// is only ever entered by explicit operator command, and it rewrites the
// current bank, so it passes the same safety gate as a forward flash.
func (o *Orchestrator) Rollback(ctx context.Context) error {
	if o.Busy() {
		return fmt.Errorf("cannot roll back while session is %s", o.machine.Current())
	}

	if result, err := o.safety.EnterUpdateMode(); err != nil {
		err = fmt.Errorf("%w: %s", ErrSafetyCheckFailed, result)
		o.versions.SetError(err)
		return err
	}
	if err := o.machine.Event(ctx, eventRollback); err != nil {
		_ = o.safety.ExitUpdateMode()
		return err
	}

	o.backups.SetProgress(func(pct int) { o.versions.SetProgress(pct) })
	err := o.backups.RestoreFromBackup()
	o.backups.SetProgress(nil)

	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		o.versions.SetError(wrapped)
		if ferr := o.machine.Event(ctx, eventFail); ferr != nil {
			log.Error(ferr, "Failed to mark rollback failed")
		}
		_ = o.safety.ExitUpdateMode()
		return wrapped
	}

	_ = o.safety.ExitUpdateMode()
	if err := o.machine.Event(ctx, eventRollbackDone); err != nil {
		return err
	}

	log.Info("Rollback complete, rebooting into restored firmware")
	time.Sleep(o.rebootDelay)
	if err := o.hw.Reboot(); err != nil {
		log.Error(err, "Reboot request failed after rollback")
	}
	return nil
}
