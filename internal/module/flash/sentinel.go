package flash

import "encoding/binary"

// The last sector of each bank holds a commit sentinel: a small record
// written only after the image below it has been flashed and verified. A bank
// whose sentinel is missing or does not match the image contents is treated
// as holding no firmware, so a reset in the middle of a bank copy can never
// promote a half-written image.

// sentinelMagic marks a committed bank. Changing the record layout bumps the
// trailing version digit.
var sentinelMagic = [8]byte{'A', 'B', 'L', 'S', 'F', 'W', 'v', '1'}

// SentinelSize is the encoded size of a commit sentinel.
const SentinelSize = 32

// Sentinel describes the committed image of a bank.
type Sentinel struct {
	// Size is the image length in bytes, measured from the bank base.
	Size uint32

	// CRC is the firmware checksum over the first Size bytes of the bank.
	CRC uint32

	// Major, Minor, Patch and Build identify the committed firmware version.
	Major uint16
	Minor uint16
	Patch uint16
	Build uint32

	// FlashedAt is the unix time the sentinel was written, as reported by the
	// module clock. Informational only.
	FlashedAt uint32
}

func (s Sentinel) encode() []byte {
	out := make([]byte, SentinelSize)
	copy(out, sentinelMagic[:])
	binary.LittleEndian.PutUint32(out[8:], s.Size)
	binary.LittleEndian.PutUint32(out[12:], s.CRC)
	binary.LittleEndian.PutUint16(out[16:], s.Major)
	binary.LittleEndian.PutUint16(out[18:], s.Minor)
	binary.LittleEndian.PutUint16(out[20:], s.Patch)
	binary.LittleEndian.PutUint32(out[24:], s.Build)
	binary.LittleEndian.PutUint32(out[28:], s.FlashedAt)
	return out
}

func decodeSentinel(data []byte) (Sentinel, bool) {
	if len(data) < SentinelSize {
		return Sentinel{}, false
	}
	for i, b := range sentinelMagic {
		if data[i] != b {
			return Sentinel{}, false
		}
	}
	return Sentinel{
		Size:      binary.LittleEndian.Uint32(data[8:]),
		CRC:       binary.LittleEndian.Uint32(data[12:]),
		Major:     binary.LittleEndian.Uint16(data[16:]),
		Minor:     binary.LittleEndian.Uint16(data[18:]),
		Patch:     binary.LittleEndian.Uint16(data[20:]),
		Build:     binary.LittleEndian.Uint32(data[24:]),
		FlashedAt: binary.LittleEndian.Uint32(data[28:]),
	}, true
}

// ImageCapacity returns the number of bytes of the region available for an
// image, excluding the sentinel sector at the top.
func (r Region) ImageCapacity() uint32 {
	return r.size - r.dev.Geometry().SectorSize
}

// WriteSentinel commits the region: it erases the sentinel sector and writes
// the record. Callers write it only after verifying the image it describes.
func (r Region) WriteSentinel(s Sentinel) error {
	geom := r.dev.Geometry()
	off := r.size - geom.SectorSize
	if err := r.dev.EraseSector(r.base + off); err != nil {
		return err
	}
	return r.WriteAt(off, s.encode())
}

// ReadSentinel returns the region's commit sentinel. The second return is
// false when the sentinel sector holds no valid record, which is the normal
// state of a bank that has never been committed.
func (r Region) ReadSentinel() (Sentinel, bool, error) {
	off := r.size - r.dev.Geometry().SectorSize
	data, err := r.ReadAt(off, SentinelSize)
	if err != nil {
		return Sentinel{}, false, err
	}
	s, ok := decodeSentinel(data)
	return s, ok, nil
}

// ClearSentinel erases the sentinel sector, marking the region uncommitted.
func (r Region) ClearSentinel() error {
	off := r.size - r.dev.Geometry().SectorSize
	return r.dev.EraseSector(r.base + off)
}
