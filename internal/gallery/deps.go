package gallery

import "strings"

// ParseDependencyString parses the NuGet v2 dependency property.
//
// The property packs every dependency into one string:
//
//	"Az.Accounts:[2.2.3]:|Az.Profile:0.7.0:"
//
// Each |-separated element is name:versionRange:targetFramework. A bracketed
// single version pins exactly, a bare version is an inclusive minimum, an
// open range like "[1.0, )" is also a minimum, and an empty range means
// whatever is latest.
func ParseDependencyString(raw string) []DependencySpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var specs []DependencySpec
	for _, elem := range strings.Split(raw, "|") {
		parts := strings.Split(elem, ":")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		rng := ""
		if len(parts) > 1 {
			rng = strings.TrimSpace(parts[1])
		}
		ver := versionOf(rng)
		kind := kindOf(rng)
		if ver == "" {
			// Upper-bound-only ranges like "(, 2.0]" have no usable floor.
			kind = ConstraintLatest
		}
		specs = append(specs, DependencySpec{Name: name, Kind: kind, Version: ver})
	}
	return specs
}

func kindOf(rng string) ConstraintKind {
	switch {
	case rng == "":
		return ConstraintLatest
	case strings.HasPrefix(rng, "[") && strings.HasSuffix(rng, "]") && !strings.Contains(rng, ","):
		return ConstraintExact
	default:
		return ConstraintMinimum
	}
}

// versionOf extracts the lower-bound version from a range expression.
func versionOf(rng string) string {
	if rng == "" {
		return ""
	}
	v := strings.Trim(rng, "[]() ")
	if i := strings.Index(v, ","); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
