package flash

import "fmt"

// Region is a bounds-checked window onto a Device. All address arithmetic in
// the subsystem goes through a Region; nothing above this type touches raw
// flash addresses.
type Region struct {
	dev  Device
	base uint32
	size uint32
}

// NewRegion creates a Region over [base, base+size). base must be
// sector-aligned and size a multiple of the sector size.
func NewRegion(dev Device, base, size uint32) (Region, error) {
	geom := dev.Geometry()
	if base%geom.SectorSize != 0 {
		return Region{}, fmt.Errorf("%w: region base %#x", ErrUnaligned, base)
	}
	if size == 0 || size%geom.SectorSize != 0 {
		return Region{}, fmt.Errorf("%w: region size %#x", ErrUnaligned, size)
	}
	if base < geom.BaseAddr || uint64(base)+uint64(size) > uint64(geom.End()) {
		return Region{}, fmt.Errorf("%w: region %#x+%#x", ErrOutOfRange, base, size)
	}
	return Region{dev: dev, base: base, size: size}, nil
}

// Base returns the region's absolute base address.
func (r Region) Base() uint32 { return r.base }

// Size returns the region's size in bytes.
func (r Region) Size() uint32 { return r.size }

// Sectors returns the number of sectors the region spans.
func (r Region) Sectors() uint32 {
	return r.size / r.dev.Geometry().SectorSize
}

// EraseSectors erases the first n sectors of the region.
func (r Region) EraseSectors(n uint32) error {
	geom := r.dev.Geometry()
	if n > r.Sectors() {
		return fmt.Errorf("%w: erase %d of %d sectors", ErrOutOfRange, n, r.Sectors())
	}
	for i := uint32(0); i < n; i++ {
		if err := r.dev.EraseSector(r.base + i*geom.SectorSize); err != nil {
			return err
		}
	}
	return nil
}

// EraseAll erases every sector of the region.
func (r Region) EraseAll() error {
	return r.EraseSectors(r.Sectors())
}

// WriteAt programs data at the given offset into the region.
func (r Region) WriteAt(off uint32, data []byte) error {
	if err := r.check(off, uint32(len(data))); err != nil {
		return err
	}
	return r.dev.WriteBlock(r.base+off, data)
}

// ReadAt returns length bytes starting at the given offset.
func (r Region) ReadAt(off, length uint32) ([]byte, error) {
	if err := r.check(off, length); err != nil {
		return nil, err
	}
	return r.dev.ReadBlock(r.base+off, length)
}

// CRC32 computes the firmware checksum over the first size bytes of the
// region, reading in sector-sized chunks.
func (r Region) CRC32(size uint32) (uint32, error) {
	if err := r.check(0, size); err != nil {
		return 0, err
	}

	chunk := r.dev.Geometry().SectorSize
	crc := crcInit
	for off := uint32(0); off < size; off += chunk {
		n := chunk
		if size-off < n {
			n = size - off
		}
		data, err := r.dev.ReadBlock(r.base+off, n)
		if err != nil {
			return 0, err
		}
		crc = crcUpdate(crc, data)
	}
	return crcFinish(crc), nil
}

// ContainsTargetID scans the first size bytes of the region for the platform
// identifier string.
func (r Region) ContainsTargetID(size uint32) (bool, error) {
	if err := r.check(0, size); err != nil {
		return false, err
	}
	data, err := r.dev.ReadBlock(r.base, size)
	if err != nil {
		return false, err
	}
	return FindTargetID(data, TargetID), nil
}

func (r Region) check(off, length uint32) error {
	if uint64(off)+uint64(length) > uint64(r.size) {
		return fmt.Errorf("%w: offset %#x len %#x in region of %#x", ErrOutOfRange, off, length, r.size)
	}
	return nil
}
