package codec

import "fmt"

// Version is the binary format version stored in every segment's metadata.
type Version struct {
	Major uint8
	Minor uint8
}

var (
	// Version10 is the base format: ordered, zone-relative timestamps.
	Version10 = Version{1, 0}
	// Version11 adds the system trade flag.
	Version11 = Version{1, 1}
	// Version12 adds open interest and stores UTC-normalized times.
	Version12 = Version{1, 2}
	// Version13 permits out-of-order timestamps.
	Version13 = Version{1, 3}
	// Version14 adds local receive time.
	Version14 = Version{1, 4}
	// Version15 adds the up-tick flag.
	Version15 = Version{1, 5}

	CurrentVersion = Version15
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v is o or newer.
func (v Version) AtLeast(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	return v.Minor >= o.Minor
}

func (v Version) HasSystemFlag() bool   { return v.AtLeast(Version11) }
func (v Version) HasOpenInterest() bool { return v.AtLeast(Version12) }
func (v Version) IsUTC() bool           { return v.AtLeast(Version12) }
func (v Version) AllowNonOrdered() bool { return v.AtLeast(Version13) }
func (v Version) HasLocalTime() bool    { return v.AtLeast(Version14) }
func (v Version) HasUpTick() bool       { return v.AtLeast(Version15) }
