package flash

// CRC32 as used by the legacy update tooling: polynomial 0xEDB88320
// (reflected), processed byte by byte. Deterministic and cheap enough to run
// inline on every backup status query.

const (
	crcPoly uint32 = 0xEDB88320
	crcInit uint32 = 0xFFFFFFFF
)

func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			crc = (crc >> 1) ^ (crcPoly & -(crc & 1))
		}
	}
	return crc
}

func crcFinish(crc uint32) uint32 {
	return ^crc
}

// CRC32 computes the firmware checksum of data.
func CRC32(data []byte) uint32 {
	return crcFinish(crcUpdate(crcInit, data))
}

// FindTargetID scans data for the identifier string at word-stepped offsets,
// the same way the bootloader's check routine walks flash.
func FindTargetID(data []byte, id string) bool {
	if id == "" || len(data) < len(id) {
		return false
	}
	idBytes := []byte(id)
	for off := 0; off+len(idBytes) <= len(data); off += WriteAlign {
		match := true
		for i, b := range idBytes {
			if data[off+i] != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
