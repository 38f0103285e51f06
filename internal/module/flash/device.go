package flash

import "errors"

// ErasedByte is the value every cell holds after a sector erase. Flash cells
// only transition erased to written; a second write to the same cell without
// an erase in between is a hardware fault.
const ErasedByte = 0xFF

var (
	// ErrUnaligned reports an address that does not meet the erase or write
	// alignment of the hardware. Callers round down; the primitive never does.
	ErrUnaligned = errors.New("flash: address not aligned")

	// ErrOutOfRange reports an access outside program flash or into the
	// reserved top-of-flash sectors.
	ErrOutOfRange = errors.New("flash: address out of range")

	// ErrNotErased reports a write to a cell that has not been erased.
	ErrNotErased = errors.New("flash: target not erased")

	// ErrEraseFailed reports a sector erase the controller rejected.
	ErrEraseFailed = errors.New("flash: erase failed")

	// ErrWriteFailed reports a block write the controller rejected.
	ErrWriteFailed = errors.New("flash: write failed")
)

// Device is the flash primitive layer: raw sector erase, block write and
// block read against absolute addresses. On hardware these routines are
// linked into a RAM-resident code region because they mutate the flash the
// processor otherwise executes from; behind this interface that constraint
// is the implementation's problem, not the caller's.
//
// There are no retries at this layer. A failed erase or write surfaces as an
// error for the caller to deal with.
type Device interface {
	// EraseSector fills the sector at addr with the erased-state pattern.
	// addr must be sector-aligned.
	EraseSector(addr uint32) error

	// WriteBlock programs data at addr. addr must be write-aligned and every
	// target cell must be erased.
	WriteBlock(addr uint32, data []byte) error

	// ReadBlock returns length bytes starting at addr.
	ReadBlock(addr uint32, length uint32) ([]byte, error)

	// Geometry returns the device's flash layout.
	Geometry() Geometry
}
