package backup

import "errors"

// Backup failures form their own taxonomy: these errors describe the state
// of the backup bank, not the update workflow around it.
var (
	ErrInvalidSize     = errors.New("backup: invalid image size")
	ErrReadFailed      = errors.New("backup: flash read failed")
	ErrWriteFailed     = errors.New("backup: flash write failed")
	ErrVerifyFailed    = errors.New("backup: verification failed")
	ErrEraseFailed     = errors.New("backup: flash erase failed")
	ErrNoBackup        = errors.New("backup: no valid backup present")
	ErrCorrupted       = errors.New("backup: backup contents corrupted")
	ErrVersionMismatch = errors.New("backup: backup version mismatch")
	ErrFlashBusy       = errors.New("backup: flash operation already in progress")
	ErrUnknown         = errors.New("backup: unknown failure")
)
