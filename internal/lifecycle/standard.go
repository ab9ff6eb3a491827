package lifecycle

// StandardLifecycles is the classic two-lifecycle phase ordering: a
// short "clean" lifecycle, followed by the default build lifecycle. Its
// phase names and relative order are fixed at construction and never
// change at runtime, matching the orchestrator's own immutable
// DefaultLifecycles provider that this package's Lifecycles interface
// stands in for.
type StandardLifecycles struct {
	ordinal map[string]int
	clean   map[string]bool
	firstPostClean int
}

// DefaultCleanPhases is the standard clean lifecycle, in order.
var DefaultCleanPhases = []string{
	"pre-clean",
	"clean",
	"post-clean",
}

// DefaultBuildPhases is the standard default build lifecycle, in order.
var DefaultBuildPhases = []string{
	"validate",
	"initialize",
	"generate-sources",
	"process-sources",
	"generate-resources",
	"process-resources",
	"compile",
	"process-classes",
	"generate-test-sources",
	"process-test-sources",
	"generate-test-resources",
	"process-test-resources",
	"test-compile",
	"process-test-classes",
	"test",
	"prepare-package",
	"package",
	"pre-integration-test",
	"integration-test",
	"post-integration-test",
	"verify",
	"install",
	"deploy",
}

// NewStandardLifecycles builds a StandardLifecycles from the clean
// lifecycle followed by the build lifecycle, in that fixed order.
func NewStandardLifecycles() *StandardLifecycles {
	l := &StandardLifecycles{
		ordinal: make(map[string]int),
		clean:   make(map[string]bool),
	}
	n := 0
	for _, p := range DefaultCleanPhases {
		l.ordinal[p] = n
		l.clean[p] = true
		n++
	}
	l.firstPostClean = n
	for _, p := range DefaultBuildPhases {
		l.ordinal[p] = n
		n++
	}
	return l
}

func (l *StandardLifecycles) Ordinal(phase string) (int, bool) {
	ord, ok := l.ordinal[phase]
	return ord, ok
}

func (l *StandardLifecycles) IsClean(phase string) bool {
	return l.clean[phase]
}

func (l *StandardLifecycles) FirstPostCleanOrdinal() int {
	return l.firstPostClean
}
