package harness

import (
	"fmt"
	"strings"
)

// TestName is the decomposed form of a test identifier like
// ERS_D.f19_g16.B1850.yellowstone_gnu or
// SMS.T62_g16.C.yellowstone_gnu.clm-default. The testcase token may carry
// underscore-separated options; a fifth dot segment is an optional modifier
// passed through to the case-creation collaborator.
type TestName struct {
	Full     string
	Testcase string
	Opts     []string
	Grid     string
	Compset  string
	Machine  string
	Compiler string
	Modifier string
}

// ParseTestName splits a full test name into its components.
func ParseTestName(full string) (TestName, error) {
	parts := strings.Split(full, ".")
	if len(parts) < 4 || len(parts) > 5 {
		return TestName{}, fmt.Errorf("%w: %q has %d dot-separated fields, want 4 or 5",
			ErrBadTestName, full, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return TestName{}, fmt.Errorf("%w: %q has an empty field", ErrBadTestName, full)
		}
	}

	caseTokens := strings.Split(parts[0], "_")
	machComp := strings.SplitN(parts[3], "_", 2)
	if len(machComp) != 2 || machComp[0] == "" || machComp[1] == "" {
		return TestName{}, fmt.Errorf("%w: %q needs machine_compiler, got %q",
			ErrBadTestName, full, parts[3])
	}

	tn := TestName{
		Full:     full,
		Testcase: caseTokens[0],
		Opts:     caseTokens[1:],
		Grid:     parts[1],
		Compset:  parts[2],
		Machine:  machComp[0],
		Compiler: machComp[1],
	}
	if len(parts) == 5 {
		tn.Modifier = parts[4]
	}
	return tn, nil
}
