// Package semver parses and compares module versions.
//
// Gallery modules mostly carry plain dotted versions, frequently with a
// fourth (build) segment that strict semantic versioning rejects, e.g.
// "1.0.3.2". Parsing tries the plain numeric form first and falls back to
// full semver via github.com/Masterminds/semver for anything with
// prerelease or build metadata.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a parsed module version.
type Version struct {
	raw  string
	segs []uint64    // set for plain numeric versions (1-4 segments)
	v    *mm.Version // set otherwise
}

// Parse parses a version string.
func Parse(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Version{}, fmt.Errorf("semver: empty version")
	}
	if segs, ok := parseNumeric(s); ok {
		return Version{raw: s, segs: segs}, nil
	}
	v, err := mm.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{raw: s, v: v}, nil
}

// MustParse parses a version string and panics on error. Test helper.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as originally written.
func (v Version) String() string { return v.raw }

// parseNumeric accepts 1-4 dot-separated numeric segments, padding the
// missing segments with zero so "1.2" == "1.2.0.0".
func parseNumeric(s string) ([]uint64, bool) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return nil, false
	}
	segs := make([]uint64, 4)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, false
		}
		segs[i] = n
	}
	return segs, true
}

// Compare compares a and b, returning:
//
//	-1 if a < b
//	 0 if a == b
//	 1 if a > b
func Compare(a, b Version) int {
	switch {
	case a.segs != nil && b.segs != nil:
		return compareSegs(a.segs, b.segs)
	case a.v != nil && b.v != nil:
		return a.v.Compare(b.v)
	case a.segs != nil:
		return -compareMixed(b.v, a.segs)
	default:
		return compareMixed(a.v, b.segs)
	}
}

// GTE reports whether a >= b.
func GTE(a, b Version) bool { return Compare(a, b) >= 0 }

func compareSegs(a, b []uint64) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// compareMixed compares a full semver against plain numeric segments. The
// numeric side has no prerelease, so on a core-version tie the semver side
// orders lower iff it carries one.
func compareMixed(v *mm.Version, segs []uint64) int {
	if c := compareSegs([]uint64{v.Major(), v.Minor(), v.Patch(), 0}, segs); c != 0 {
		return c
	}
	if v.Prerelease() != "" {
		return -1
	}
	return 0
}
