package update

import "errors"

// Update workflow failures. Each step owns a handful of these; nothing
// outside the orchestrator sets them.
var (
	ErrBufferInitFailed   = errors.New("update: flash buffer init failed")
	ErrDownloadFailed     = errors.New("update: firmware download failed")
	ErrValidationFailed   = errors.New("update: firmware validation failed")
	ErrFlashFailed        = errors.New("update: flash write failed")
	ErrVerificationFailed = errors.New("update: post-flash verification failed")
	ErrRollbackFailed     = errors.New("update: rollback failed")
	ErrNetworkError       = errors.New("update: network error")
	ErrInsufficientSpace  = errors.New("update: insufficient flash space")
	ErrInvalidFirmware    = errors.New("update: invalid firmware")
	ErrSafetyCheckFailed  = errors.New("update: safety check failed")
)
