// Package backup manages the backup flash bank: taking a copy of the
// running firmware before a destructive update, and restoring it on an
// explicit rollback.
package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/robotsgofarming/abls/internal/module/flash"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/version"
)

// Record is what the module knows about the backup bank. There is no
// separate metadata store: the facts are recomputed from the bank's commit
// sentinel and contents when the cached record is stale.
type Record struct {
	HasValidBackup bool
	Version        version.Version
	Size           uint32
	Checksum       uint32
	CreatedAt      time.Time

	LastOperation string
	LastError     error
}

// ProgressFunc receives copy progress in percent, 0 to 100.
type ProgressFunc func(pct int)

// Manager owns all writes to the backup bank and the restore path back into
// the current bank. Owned by the module control loop; not safe for
// concurrent use.
type Manager struct {
	dev     flash.Device
	current flash.Region
	backup  flash.Region

	// runningVersion reports the firmware version executing right now, which
	// is what a fresh backup is a copy of.
	runningVersion func() version.Version

	progress ProgressFunc

	record Record
	stale  bool
	busy   bool
}

// NewManager builds the backup manager over the two firmware banks.
func NewManager(dev flash.Device, runningVersion func() version.Version) (*Manager, error) {
	geom := dev.Geometry()

	current, err := flash.NewRegion(dev, geom.CurrentBankBase(), geom.BankSize)
	if err != nil {
		return nil, err
	}
	bak, err := flash.NewRegion(dev, geom.BackupBankBase(), geom.BankSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		dev:            dev,
		current:        current,
		backup:         bak,
		runningVersion: runningVersion,
		stale:          true,
	}, nil
}

// SetProgress installs the copy progress callback.
func (m *Manager) SetProgress(fn ProgressFunc) {
	m.progress = fn
}

func (m *Manager) report(pct int) {
	if m.progress != nil {
		m.progress(pct)
	}
}

// BackupCurrentFirmware erases the backup bank and copies the current bank
// into it sector by sector, then verifies the copy by checksum and commits
// it with a sentinel. On failure the partial backup is left in place and
// marked invalid; callers must consult HasValidBackup before trusting it.
func (m *Manager) BackupCurrentFirmware() error {
	if m.busy {
		return ErrFlashBusy
	}
	m.busy = true
	defer func() { m.busy = false }()

	err := m.doBackup()
	m.record.LastOperation = "backup"
	m.record.LastError = err
	if err != nil {
		m.record.HasValidBackup = false
		m.stale = true
	}
	return err
}

func (m *Manager) doBackup() error {
	size := m.currentImageSize()
	if size == 0 || size > m.current.ImageCapacity() {
		return fmt.Errorf("%w: current image %#x bytes", ErrInvalidSize, size)
	}

	geom := m.dev.Geometry()
	sectors := geom.SectorsFor(size)

	log.Info("Backing up current firmware", "size", size, "sectors", sectors)
	if err := m.backup.ClearSentinel(); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}
	if err := m.backup.EraseSectors(sectors); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}

	chunk := geom.SectorSize
	for off := uint32(0); off < size; off += chunk {
		n := chunk
		if size-off < n {
			n = size - off
		}
		data, err := m.current.ReadAt(off, n)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		if err := m.backup.WriteAt(off, data); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		m.report(int(uint64(off+n) * 100 / uint64(size)))
	}

	srcCRC, err := m.current.CRC32(size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	dstCRC, err := m.backup.CRC32(size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if srcCRC != dstCRC {
		return fmt.Errorf("%w: source crc %#x, backup crc %#x", ErrVerifyFailed, srcCRC, dstCRC)
	}

	ver := m.runningVersion()
	sentinel := flash.Sentinel{
		Size:      size,
		CRC:       dstCRC,
		Major:     ver.Major,
		Minor:     ver.Minor,
		Patch:     ver.Patch,
		Build:     ver.Build,
		FlashedAt: uint32(time.Now().Unix()),
	}
	if err := m.backup.WriteSentinel(sentinel); err != nil {
		return fmt.Errorf("%w: sentinel: %v", ErrWriteFailed, err)
	}

	m.record = Record{
		HasValidBackup: true,
		Version:        ver,
		Size:           size,
		Checksum:       dstCRC,
		CreatedAt:      time.Now(),
		LastOperation:  "backup",
	}
	m.stale = false
	log.Info("Backup complete", "version", ver.String(), "crc", fmt.Sprintf("%#x", dstCRC))
	return nil
}

// RestoreFromBackup copies the backup bank over the current bank. It fails
// fast when no valid backup exists, leaving the current bank untouched.
// Once the current bank erase begins there is no way back until the copy
// completes.
func (m *Manager) RestoreFromBackup() error {
	if m.busy {
		return ErrFlashBusy
	}
	m.busy = true
	defer func() { m.busy = false }()

	err := m.doRestore()
	m.record.LastOperation = "restore"
	m.record.LastError = err
	return err
}

func (m *Manager) doRestore() error {
	if err := m.ValidateBackup(); err != nil {
		return err
	}
	rec := m.record

	geom := m.dev.Geometry()
	sectors := geom.SectorsFor(rec.Size)

	log.Warn("Restoring firmware from backup", "version", rec.Version.String(), "size", rec.Size)

	// Point of no return: the running image is gone after this erase.
	if err := m.current.ClearSentinel(); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}
	if err := m.current.EraseSectors(sectors); err != nil {
		return fmt.Errorf("%w: %v", ErrEraseFailed, err)
	}

	chunk := geom.SectorSize
	for off := uint32(0); off < rec.Size; off += chunk {
		n := chunk
		if rec.Size-off < n {
			n = rec.Size - off
		}
		data, err := m.backup.ReadAt(off, n)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		if err := m.current.WriteAt(off, data); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		m.report(int(uint64(off+n) * 100 / uint64(rec.Size)))
	}

	crc, err := m.current.CRC32(rec.Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if crc != rec.Checksum {
		return fmt.Errorf("%w: restored crc %#x, backup crc %#x", ErrVerifyFailed, crc, rec.Checksum)
	}

	sentinel := flash.Sentinel{
		Size:      rec.Size,
		CRC:       rec.Checksum,
		Major:     rec.Version.Major,
		Minor:     rec.Version.Minor,
		Patch:     rec.Version.Patch,
		Build:     rec.Version.Build,
		FlashedAt: uint32(time.Now().Unix()),
	}
	if err := m.current.WriteSentinel(sentinel); err != nil {
		return fmt.Errorf("%w: sentinel: %v", ErrWriteFailed, err)
	}

	log.Info("Restore complete", "version", rec.Version.String())
	return nil
}

// ValidateBackup recomputes the backup bank's checksum against its sentinel
// and refreshes the cached record.
func (m *Manager) ValidateBackup() error {
	sentinel, ok, err := m.backup.ReadSentinel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if !ok {
		m.record.HasValidBackup = false
		m.stale = false
		return ErrNoBackup
	}
	if sentinel.Size == 0 || sentinel.Size > m.backup.ImageCapacity() {
		m.record.HasValidBackup = false
		m.stale = false
		return fmt.Errorf("%w: sentinel reports %#x bytes", ErrInvalidSize, sentinel.Size)
	}

	ver := version.Version{
		Major: sentinel.Major,
		Minor: sentinel.Minor,
		Patch: sentinel.Patch,
		Build: sentinel.Build,
	}
	// A record taken this boot pins the expected version; a sentinel that
	// disagrees means the bank changed underneath us.
	if !m.stale && m.record.HasValidBackup && m.record.Version != ver {
		m.record.HasValidBackup = false
		return fmt.Errorf("%w: recorded %s, sentinel %s", ErrVersionMismatch, m.record.Version.String(), ver.String())
	}

	crc, err := m.backup.CRC32(sentinel.Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if crc != sentinel.CRC {
		m.record.HasValidBackup = false
		m.stale = false
		return fmt.Errorf("%w: computed crc %#x, sentinel crc %#x", ErrCorrupted, crc, sentinel.CRC)
	}

	m.record.HasValidBackup = true
	m.record.Version = ver
	m.record.Size = sentinel.Size
	m.record.Checksum = sentinel.CRC
	if m.record.CreatedAt.IsZero() {
		m.record.CreatedAt = time.Unix(int64(sentinel.FlashedAt), 0)
	}
	m.stale = false
	return nil
}

// HasValidBackup reports whether a restore would have something to restore.
func (m *Manager) HasValidBackup() bool {
	if m.stale {
		if err := m.ValidateBackup(); err != nil && !errors.Is(err, ErrNoBackup) {
			log.Warn("Backup validation failed", "err", err)
		}
	}
	return m.record.HasValidBackup
}

// Status returns the current backup record, revalidating a stale one first.
func (m *Manager) Status() Record {
	if m.stale {
		if err := m.ValidateBackup(); err != nil && !errors.Is(err, ErrNoBackup) {
			log.Warn("Backup validation failed", "err", err)
		}
	}
	return m.record
}

// Invalidate marks the cached record stale, forcing the next read-only query
// to rescan the backup bank.
func (m *Manager) Invalidate() {
	m.stale = true
}

// currentImageSize reads the committed size of the running image from the
// current bank's sentinel; a bank without one is measured as the full image
// capacity, the behavior of modules flashed before sentinels existed.
func (m *Manager) currentImageSize() uint32 {
	sentinel, ok, err := m.current.ReadSentinel()
	if err != nil || !ok {
		return m.current.ImageCapacity()
	}
	if sentinel.Size == 0 || sentinel.Size > m.current.ImageCapacity() {
		return m.current.ImageCapacity()
	}
	return sentinel.Size
}
