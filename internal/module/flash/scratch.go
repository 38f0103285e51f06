package flash

import (
	"errors"
	"fmt"
)

// ErrScratchTooSmall reports that the flash left above the running code is
// smaller than the image to download.
var ErrScratchTooSmall = errors.New("flash: scratch region too small")

// AllocScratch reserves the download scratch region: the flash between the
// end of the running code and the current bank's sentinel sector, rounded to
// sector boundaries. The region is erased before it is returned, so the
// caller can stream writes straight into it.
//
// codeEnd is the first absolute address past the running image; need is the
// size of the image about to be downloaded.
func AllocScratch(dev Device, codeEnd, need uint32) (Region, error) {
	geom := dev.Geometry()

	bankBase := geom.CurrentBankBase()
	if codeEnd < bankBase || codeEnd > bankBase+geom.BankSize {
		return Region{}, fmt.Errorf("%w: code end %#x outside current bank", ErrOutOfRange, codeEnd)
	}

	base := bankBase + geom.AlignUp(codeEnd-bankBase)
	end := bankBase + geom.BankSize - geom.SectorSize
	if base >= end {
		return Region{}, fmt.Errorf("%w: no flash above code end %#x", ErrScratchTooSmall, codeEnd)
	}

	r, err := NewRegion(dev, base, end-base)
	if err != nil {
		return Region{}, err
	}
	if need > r.Size() {
		return Region{}, fmt.Errorf("%w: need %#x, have %#x", ErrScratchTooSmall, need, r.Size())
	}
	if err := r.EraseSectors(geom.SectorsFor(need)); err != nil {
		return Region{}, err
	}
	return r, nil
}

// FreeScratch returns the scratch region to the erased state.
func FreeScratch(r Region) error {
	return r.EraseAll()
}
