package protocol

import (
	"fmt"
	"math"
)

// Version is a protocol version number, as sent in the handshake.
//
// Versions are totally ordered; a higher number is a newer protocol revision.
type Version int32

const (
	// Unnegotiated is the version of a connection whose handshake was not seen yet.
	Unnegotiated Version = 0

	V1_8    Version = 47
	V1_9    Version = 107
	V1_12_2 Version = 340
	V1_13   Version = 393
	V1_16   Version = 735
	V1_16_5 Version = 754
	V1_17   Version = 755
	V1_19   Version = 759
	V1_19_3 Version = 761
	V1_20   Version = 763
	V1_20_2 Version = 764
	V1_20_3 Version = 765
	V1_20_5 Version = 766
	V1_21   Version = 767
	V1_21_2 Version = 768

	MaxVersion Version = math.MaxInt32
)

var versionNames = map[Version]string{
	V1_8:    "1.8",
	V1_9:    "1.9",
	V1_12_2: "1.12.2",
	V1_13:   "1.13",
	V1_16:   "1.16",
	V1_16_5: "1.16.5",
	V1_17:   "1.17",
	V1_19:   "1.19",
	V1_19_3: "1.19.3",
	V1_20:   "1.20",
	V1_20_2: "1.20.2",
	V1_20_3: "1.20.3",
	V1_20_5: "1.20.5",
	V1_21:   "1.21",
	V1_21_2: "1.21.2",
}

// Name returns the release name of a known version, or an empty string.
func (v Version) Name() string {
	return versionNames[v]
}

func (v Version) String() string {
	if n, ok := versionNames[v]; ok {
		return fmt.Sprintf("%d (%s)", int32(v), n)
	}
	return fmt.Sprintf("%d", int32(v))
}

// Range is a half-open interval of versions, [Min, Max).
type Range struct {
	Min, Max Version
}

// AllVersions covers every version, including Unnegotiated.
var AllVersions = Range{Min: 0, Max: MaxVersion}

// Since returns the range of all versions starting at v.
func Since(v Version) Range {
	return Range{Min: v, Max: MaxVersion}
}

// Between returns [min, max).
func Between(min, max Version) Range {
	return Range{Min: min, Max: max}
}

func (r Range) Contains(v Version) bool {
	return v >= r.Min && v < r.Max
}

func (r Range) Overlaps(o Range) bool {
	return r.Min < o.Max && o.Min < r.Max
}

func (r Range) Empty() bool {
	return r.Min >= r.Max
}

func (r Range) String() string {
	if r.Max == MaxVersion {
		return fmt.Sprintf("[%d,∞)", int32(r.Min))
	}
	return fmt.Sprintf("[%d,%d)", int32(r.Min), int32(r.Max))
}
