package flash

import "fmt"

// TargetID is the platform identifier string that must be present in any
// firmware image flashed to this hardware variant. The linker embeds the
// same string in every image built for the Teensy 4.1 modules.
const TargetID = "fw_teensy41"

// WriteAlign is the smallest write unit of the flash controller.
const WriteAlign = 4

// Geometry describes the program flash layout of the target. All values are
// fixed per hardware variant; the defaults model the Teensy 4.1 parts used
// in the ABLS modules.
type Geometry struct {
	// BaseAddr is the absolute address program flash is mapped at.
	BaseAddr uint32

	// TotalSize is the size of program flash in bytes.
	TotalSize uint32

	// SectorSize is the smallest erasable unit.
	SectorSize uint32

	// ReserveSectors are sectors at the top of flash kept for the EEPROM
	// emulation and restore data; never erased or written by this subsystem.
	ReserveSectors uint32

	// BankSize is the size of each firmware bank. The current bank starts at
	// BaseAddr, the backup bank at the midpoint of flash. Each bank stops
	// short of its half's top by ReserveSectors so the reserved sectors are
	// never covered by a bank operation.
	BankSize uint32
}

// Teensy41 returns the flash geometry of the Teensy 4.1: 8 MiB of program
// flash at 0x6000_0000, 4 KiB sectors, two equal banks just under 4 MiB.
func Teensy41() Geometry {
	return Geometry{
		BaseAddr:       0x6000_0000,
		TotalSize:      0x80_0000,
		SectorSize:     0x1000,
		ReserveSectors: 4,
		BankSize:       0x3F_C000,
	}
}

// Validate checks the geometry invariants: sector-aligned banks, bank sizes
// that are a multiple of the sector size, and two non-overlapping banks that
// fit inside flash.
func (g Geometry) Validate() error {
	if g.SectorSize == 0 || g.SectorSize&(g.SectorSize-1) != 0 {
		return fmt.Errorf("sector size %#x is not a power of two", g.SectorSize)
	}
	if g.BaseAddr%g.SectorSize != 0 {
		return fmt.Errorf("base address %#x is not sector-aligned", g.BaseAddr)
	}
	if g.BankSize == 0 || g.BankSize%g.SectorSize != 0 {
		return fmt.Errorf("bank size %#x is not a multiple of the sector size", g.BankSize)
	}
	if g.TotalSize%g.SectorSize != 0 {
		return fmt.Errorf("total size %#x is not a multiple of the sector size", g.TotalSize)
	}
	half := g.TotalSize / 2
	if half%g.SectorSize != 0 {
		return fmt.Errorf("flash midpoint %#x is not sector-aligned", half)
	}
	if uint64(g.BankSize)+uint64(g.ReserveSectors)*uint64(g.SectorSize) > uint64(half) {
		return fmt.Errorf("bank of %#x plus %d reserved sectors does not fit in half of %#x", g.BankSize, g.ReserveSectors, g.TotalSize)
	}
	return nil
}

// CurrentBankBase returns the base address of the bank the processor
// executes from.
func (g Geometry) CurrentBankBase() uint32 {
	return g.BaseAddr
}

// BackupBankBase returns the base address of the backup bank.
func (g Geometry) BackupBankBase() uint32 {
	return g.BaseAddr + g.TotalSize/2
}

// End returns the first address past program flash.
func (g Geometry) End() uint32 {
	return g.BaseAddr + g.TotalSize
}

// ReserveBase returns the first reserved address at the top of flash.
func (g Geometry) ReserveBase() uint32 {
	return g.End() - g.ReserveSectors*g.SectorSize
}

// SectorsFor returns the number of sectors covering size bytes.
func (g Geometry) SectorsFor(size uint32) uint32 {
	return (size + g.SectorSize - 1) / g.SectorSize
}

// AlignUp rounds size up to the next sector boundary.
func (g Geometry) AlignUp(size uint32) uint32 {
	return g.SectorsFor(size) * g.SectorSize
}
