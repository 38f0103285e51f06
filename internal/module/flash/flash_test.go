package flash

import (
	"bytes"
	"errors"
	"testing"
)

// testGeometry is a shrunken layout so the tests do not allocate 8 MiB per
// case: 64 KiB of flash, 4 KiB sectors, two 24 KiB banks, 2 reserved sectors.
func testGeometry() Geometry {
	return Geometry{
		BaseAddr:       0x6000_0000,
		TotalSize:      0x1_0000,
		SectorSize:     0x1000,
		ReserveSectors: 2,
		BankSize:       0x6000,
	}
}

func newTestDevice(t *testing.T) *MemDevice {
	t.Helper()
	dev, err := NewMemDevice(testGeometry())
	if err != nil {
		t.Fatalf("NewMemDevice: %v", err)
	}
	return dev
}

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Geometry)
		wantErr bool
	}{
		{name: "teensy41 defaults", mutate: func(g *Geometry) { *g = Teensy41() }},
		{name: "test defaults", mutate: func(g *Geometry) {}},
		{name: "sector size not power of two", mutate: func(g *Geometry) { g.SectorSize = 0x1800 }, wantErr: true},
		{name: "unaligned base", mutate: func(g *Geometry) { g.BaseAddr += 4 }, wantErr: true},
		{name: "bank not sector multiple", mutate: func(g *Geometry) { g.BankSize += 8 }, wantErr: true},
		{name: "bank plus reserve overflows half", mutate: func(g *Geometry) { g.BankSize = 0x7000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			tt.mutate(&g)
			err := g.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGeometryBanksDoNotOverlapReserve(t *testing.T) {
	for _, g := range []Geometry{Teensy41(), testGeometry()} {
		if g.CurrentBankBase()+g.BankSize > g.BackupBankBase() {
			t.Errorf("banks overlap: current ends %#x, backup starts %#x", g.CurrentBankBase()+g.BankSize, g.BackupBankBase())
		}
		if g.BackupBankBase()+g.BankSize > g.ReserveBase() {
			t.Errorf("backup bank reaches reserve: ends %#x, reserve at %#x", g.BackupBankBase()+g.BankSize, g.ReserveBase())
		}
	}
}

func TestMemDeviceStartsErased(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	data, err := dev.ReadBlock(g.BaseAddr, g.SectorSize)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	for i, b := range data {
		if b != ErasedByte {
			t.Fatalf("cell %d = %#x, want erased", i, b)
		}
	}
}

func TestMemDeviceWriteRules(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	if err := dev.WriteBlock(g.BaseAddr, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Same cells again without an erase in between.
	err := dev.WriteBlock(g.BaseAddr, []byte{5, 6, 7, 8})
	if !errors.Is(err, ErrNotErased) {
		t.Fatalf("rewrite error = %v, want ErrNotErased", err)
	}

	if err := dev.EraseSector(g.BaseAddr); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := dev.WriteBlock(g.BaseAddr, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("write after erase: %v", err)
	}

	if err := dev.WriteBlock(g.BaseAddr+2, []byte{9}); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("unaligned write error = %v, want ErrUnaligned", err)
	}
	if err := dev.EraseSector(g.BaseAddr + 12); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("unaligned erase error = %v, want ErrUnaligned", err)
	}
}

func TestMemDeviceProtectsReserve(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	if err := dev.EraseSector(g.ReserveBase()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("erase in reserve error = %v, want ErrOutOfRange", err)
	}
	if err := dev.WriteBlock(g.ReserveBase(), []byte{0, 0, 0, 0}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("write in reserve error = %v, want ErrOutOfRange", err)
	}
	if _, err := dev.ReadBlock(g.End()-4, 8); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("read past end error = %v, want ErrOutOfRange", err)
	}
}

func TestMemDeviceFaultInjection(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	dev.FailAt(g.BaseAddr, 0)
	if err := dev.EraseSector(g.BaseAddr); !errors.Is(err, ErrEraseFailed) {
		t.Fatalf("erase error = %v, want ErrEraseFailed", err)
	}

	dev.FailAt(0, g.BaseAddr+8)
	if err := dev.WriteBlock(g.BaseAddr, make([]byte, 16)); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("write error = %v, want ErrWriteFailed", err)
	}

	dev.ClearFaults()
	if err := dev.EraseSector(g.BaseAddr); err != nil {
		t.Fatalf("erase after ClearFaults: %v", err)
	}
}

func TestCRC32KnownVector(t *testing.T) {
	// Standard check value for the reflected 0xEDB88320 polynomial.
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("CRC32 = %#x, want 0xCBF43926", got)
	}
	if got := CRC32(nil); got != 0 {
		t.Fatalf("CRC32(nil) = %#x, want 0", got)
	}
}

func TestFindTargetID(t *testing.T) {
	id := TargetID

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "at start", data: []byte(id + "tail"), want: true},
		{name: "word aligned", data: append(make([]byte, 8), []byte(id)...), want: true},
		{name: "off word boundary", data: append(make([]byte, 3), []byte(id)...), want: false},
		{name: "absent", data: make([]byte, 64), want: false},
		{name: "too short", data: []byte(id[:4]), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindTargetID(tt.data, id); got != tt.want {
				t.Fatalf("FindTargetID = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegionBounds(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	if _, err := NewRegion(dev, g.BaseAddr+8, g.SectorSize); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("unaligned base error = %v, want ErrUnaligned", err)
	}
	if _, err := NewRegion(dev, g.BaseAddr, g.TotalSize+g.SectorSize); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("oversize region error = %v, want ErrOutOfRange", err)
	}

	r, err := NewRegion(dev, g.CurrentBankBase(), g.BankSize)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if _, err := r.ReadAt(g.BankSize-4, 8); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("read past region error = %v, want ErrOutOfRange", err)
	}
	if err := r.WriteAt(g.BankSize, []byte{1, 2, 3, 4}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("write past region error = %v, want ErrOutOfRange", err)
	}
}

func TestRegionCRC32MatchesDirect(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	r, err := NewRegion(dev, g.CurrentBankBase(), g.BankSize)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}

	// Payload longer than one sector so the chunked path runs.
	payload := make([]byte, g.SectorSize+512)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if err := r.EraseSectors(g.SectorsFor(uint32(len(payload)))); err != nil {
		t.Fatalf("EraseSectors: %v", err)
	}
	if err := r.WriteAt(0, payload); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got, err := r.CRC32(uint32(len(payload)))
	if err != nil {
		t.Fatalf("CRC32: %v", err)
	}
	if want := CRC32(payload); got != want {
		t.Fatalf("region CRC32 = %#x, direct = %#x", got, want)
	}
}

func TestSentinelRoundTrip(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	r, err := NewRegion(dev, g.BackupBankBase(), g.BankSize)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}

	if _, ok, err := r.ReadSentinel(); err != nil || ok {
		t.Fatalf("fresh bank sentinel: ok=%v err=%v, want absent", ok, err)
	}

	want := Sentinel{
		Size:      0x1234,
		CRC:       0xDEADBEEF,
		Major:     2,
		Minor:     1,
		Patch:     3,
		Build:     47,
		FlashedAt: 1_700_000_000,
	}
	if err := r.WriteSentinel(want); err != nil {
		t.Fatalf("WriteSentinel: %v", err)
	}

	got, ok, err := r.ReadSentinel()
	if err != nil || !ok {
		t.Fatalf("ReadSentinel: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("sentinel = %+v, want %+v", got, want)
	}

	// Rewriting must succeed: WriteSentinel erases its sector first.
	want.Build = 48
	if err := r.WriteSentinel(want); err != nil {
		t.Fatalf("second WriteSentinel: %v", err)
	}

	if err := r.ClearSentinel(); err != nil {
		t.Fatalf("ClearSentinel: %v", err)
	}
	if _, ok, _ := r.ReadSentinel(); ok {
		t.Fatal("sentinel still present after ClearSentinel")
	}
}

func TestSentinelSectorBelowImageCapacity(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	r, err := NewRegion(dev, g.CurrentBankBase(), g.BankSize)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	if got, want := r.ImageCapacity(), g.BankSize-g.SectorSize; got != want {
		t.Fatalf("ImageCapacity = %#x, want %#x", got, want)
	}
}

func TestAllocScratch(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	// Simulated code occupies one and a half sectors of the current bank.
	codeEnd := g.CurrentBankBase() + g.SectorSize+g.SectorSize/2

	r, err := AllocScratch(dev, codeEnd, g.SectorSize)
	if err != nil {
		t.Fatalf("AllocScratch: %v", err)
	}
	if r.Base() != g.CurrentBankBase()+2*g.SectorSize {
		t.Fatalf("scratch base = %#x, want code end rounded up to %#x", r.Base(), g.CurrentBankBase()+2*g.SectorSize)
	}
	if end := r.Base() + r.Size(); end != g.CurrentBankBase()+g.BankSize-g.SectorSize {
		t.Fatalf("scratch end = %#x, want below sentinel sector at %#x", end, g.CurrentBankBase()+g.BankSize-g.SectorSize)
	}

	if err := r.WriteAt(0, bytes.Repeat([]byte{0xAB}, 64)); err != nil {
		t.Fatalf("write into fresh scratch: %v", err)
	}
	if err := FreeScratch(r); err != nil {
		t.Fatalf("FreeScratch: %v", err)
	}
	data, err := r.ReadAt(0, 64)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range data {
		if b != ErasedByte {
			t.Fatalf("cell %d = %#x after FreeScratch, want erased", i, b)
		}
	}
}

func TestAllocScratchTooSmall(t *testing.T) {
	dev := newTestDevice(t)
	g := dev.Geometry()

	codeEnd := g.CurrentBankBase() + g.SectorSize

	_, err := AllocScratch(dev, codeEnd, g.BankSize)
	if !errors.Is(err, ErrScratchTooSmall) {
		t.Fatalf("error = %v, want ErrScratchTooSmall", err)
	}

	// Code filling the whole bank leaves nothing above it.
	_, err = AllocScratch(dev, g.CurrentBankBase()+g.BankSize, 4)
	if !errors.Is(err, ErrScratchTooSmall) {
		t.Fatalf("error = %v, want ErrScratchTooSmall", err)
	}
}
