// Package version carries the firmware version identity of a module build
// and the ordering used to compare two firmware versions.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Build-time identity, overridden by the linker:
//
//	-ldflags "-X github.com/robotsgofarming/abls/pkg/version.gitVersion=2.1.3+47 ..."
var (
	gitVersion = "0.0.0+0"
	gitCommit  = "unknown"
	buildDate  = "unknown"
)

// Version identifies a firmware build. Ordering is major, minor, patch, then
// build; Date and GitHash are informational and never compared.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
	Build uint32

	Date    string
	GitHash string
}

// Current returns the version compiled into this binary.
func Current() Version {
	v, err := Parse(gitVersion)
	if err != nil {
		return Version{Date: buildDate, GitHash: gitCommit}
	}
	v.Date = buildDate
	v.GitHash = gitCommit
	return v
}

// Parse reads "major.minor.patch+build" or "major.minor.patch", with an
// optional leading "v".
func Parse(s string) (Version, error) {
	var v Version

	s = strings.TrimPrefix(s, "v")
	core, build, hasBuild := strings.Cut(s, "+")

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q: want major.minor.patch", s)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = uint16(nums[0]), uint16(nums[1]), uint16(nums[2])

	if hasBuild {
		n, err := strconv.ParseUint(build, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: build %w", s, err)
		}
		v.Build = uint32(n)
	}
	return v, nil
}

// String renders "major.minor.patch+build".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d+%d", v.Major, v.Minor, v.Patch, v.Build)
}

// Compare orders v against o: -1 when v is older, 0 when equal, 1 when newer.
func (v Version) Compare(o Version) int {
	pairs := [4][2]uint32{
		{uint32(v.Major), uint32(o.Major)},
		{uint32(v.Minor), uint32(o.Minor)},
		{uint32(v.Patch), uint32(o.Patch)},
		{v.Build, o.Build},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// Newer reports whether v is strictly newer than o.
func (v Version) Newer(o Version) bool {
	return v.Compare(o) > 0
}
