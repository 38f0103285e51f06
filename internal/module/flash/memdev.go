package flash

import "fmt"

// MemDevice is a RAM-backed Device used by the simulator and the tests. It
// enforces the same alignment, range and erased-before-written rules the
// hardware primitives do, so code exercised against it would behave the same
// against the real part.
type MemDevice struct {
	geom Geometry
	data []byte

	// failEraseAt / failWriteAt inject a fault at an absolute address,
	// letting tests exercise the error paths of the layers above.
	failEraseAt uint32
	failWriteAt uint32
	hasFault    bool
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice creates a memory device with all of flash in the erased state.
func NewMemDevice(geom Geometry) (*MemDevice, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	data := make([]byte, geom.TotalSize)
	for i := range data {
		data[i] = ErasedByte
	}

	return &MemDevice{geom: geom, data: data}, nil
}

// FailAt arms a one-address fault: any erase touching eraseAddr or write
// touching writeAddr fails. Pass 0 to leave that operation healthy.
func (d *MemDevice) FailAt(eraseAddr, writeAddr uint32) {
	d.failEraseAt = eraseAddr
	d.failWriteAt = writeAddr
	d.hasFault = true
}

// ClearFaults disarms injected faults.
func (d *MemDevice) ClearFaults() {
	d.hasFault = false
	d.failEraseAt = 0
	d.failWriteAt = 0
}

func (d *MemDevice) Geometry() Geometry {
	return d.geom
}

func (d *MemDevice) EraseSector(addr uint32) error {
	if addr%d.geom.SectorSize != 0 {
		return fmt.Errorf("%w: erase at %#x", ErrUnaligned, addr)
	}
	if !d.inRange(addr, d.geom.SectorSize) {
		return fmt.Errorf("%w: erase at %#x", ErrOutOfRange, addr)
	}
	if d.hasFault && d.failEraseAt != 0 && addr <= d.failEraseAt && d.failEraseAt < addr+d.geom.SectorSize {
		return fmt.Errorf("%w: sector %#x", ErrEraseFailed, addr)
	}

	off := addr - d.geom.BaseAddr
	for i := uint32(0); i < d.geom.SectorSize; i++ {
		d.data[off+i] = ErasedByte
	}
	return nil
}

func (d *MemDevice) WriteBlock(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr%WriteAlign != 0 {
		return fmt.Errorf("%w: write at %#x", ErrUnaligned, addr)
	}
	if !d.inRange(addr, uint32(len(data))) {
		return fmt.Errorf("%w: write at %#x len %d", ErrOutOfRange, addr, len(data))
	}
	if d.hasFault && d.failWriteAt != 0 && addr <= d.failWriteAt && d.failWriteAt < addr+uint32(len(data)) {
		return fmt.Errorf("%w: block at %#x", ErrWriteFailed, addr)
	}

	off := addr - d.geom.BaseAddr
	for i := range data {
		if d.data[off+uint32(i)] != ErasedByte {
			return fmt.Errorf("%w: cell %#x", ErrNotErased, addr+uint32(i))
		}
	}
	copy(d.data[off:], data)
	return nil
}

func (d *MemDevice) ReadBlock(addr uint32, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if !d.inRange(addr, length) {
		return nil, fmt.Errorf("%w: read at %#x len %d", ErrOutOfRange, addr, length)
	}

	off := addr - d.geom.BaseAddr
	out := make([]byte, length)
	copy(out, d.data[off:off+length])
	return out, nil
}

// inRange reports whether [addr, addr+length) lies inside program flash and
// below the reserved sectors.
func (d *MemDevice) inRange(addr, length uint32) bool {
	if addr < d.geom.BaseAddr {
		return false
	}
	end := uint64(addr) + uint64(length)
	return end <= uint64(d.geom.ReserveBase())
}
