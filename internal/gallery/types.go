package gallery

// ConstraintKind says how a dependency pins its version.
type ConstraintKind int

const (
	// ConstraintLatest accepts whatever the repository currently serves.
	ConstraintLatest ConstraintKind = iota
	// ConstraintExact requires the named version.
	ConstraintExact
	// ConstraintMinimum requires the resolved version to be >= the named one.
	ConstraintMinimum
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintExact:
		return "exact"
	case ConstraintMinimum:
		return "minimum"
	default:
		return "latest"
	}
}

// DependencySpec is a version constraint attached to a module dependency.
// Version is set for exact and minimum constraints and empty for latest.
type DependencySpec struct {
	Name    string
	Kind    ConstraintKind
	Version string
}

// ModuleDescriptor identifies one resolvable package in a repository,
// together with its direct dependencies.
type ModuleDescriptor struct {
	Name         string
	Version      string
	Repository   string
	Dependencies []DependencySpec
}
