package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// Commands holds the external collaborator command lines invoked per phase.
// Each is a shell-style string split with shlex at execution time; relative
// script names like ./case.setup resolve against the case directory.
type Commands struct {
	CreateNewcase string
	Envgen        string
	Setup         string
	Build         string
	Submit        string
	XMLChange     string
	XMLQuery      string
	Compare       string
}

func (c *Commands) applyDefaults(scriptsRoot string) {
	if c.CreateNewcase == "" {
		c.CreateNewcase = filepath.Join(scriptsRoot, "create_newcase")
	}
	if c.Envgen == "" {
		c.Envgen = "./envgen"
	}
	if c.Setup == "" {
		c.Setup = "./case.setup"
	}
	if c.Build == "" {
		c.Build = "./case.test_build"
	}
	if c.Submit == "" {
		c.Submit = "./case.submit"
	}
	if c.XMLChange == "" {
		c.XMLChange = "./xmlchange"
	}
	if c.XMLQuery == "" {
		c.XMLQuery = "./xmlquery"
	}
	if c.Compare == "" {
		c.Compare = filepath.Join(scriptsRoot, "nlcomp")
	}
}

// Options configures one batch. Zero values select documented defaults.
type Options struct {
	Tests       []string
	TestRoot    string
	TestID      string // "" = UTC timestamp
	ScriptsRoot string
	Compiler    string
	Project     string
	Wallclock   string

	Compare      bool
	Generate     bool
	BaselineName string
	BaselineRoot string

	NoBuild       bool
	NoRun         bool
	NamelistsOnly bool // implies NoBuild
	NoBatch       bool

	ParallelJobs    int // 0 = min(len(Tests), MaxTasksPerNode)
	ProcPool        int // 0 = PESPerNode oversubscribed by 1/4
	PESPerNode      int
	MaxTasksPerNode int

	NamelistGlobs []string
	Commands      Commands
}

// Batch is a fully validated run: the phase table, one record per test, and
// the resolved paths every component derives case locations from. After
// construction errors land in per-test status files rather than aborting
// the batch.
type Batch struct {
	Opts    Options
	Phases  PhaseTable
	Records []*Record

	byName       map[string]*Record
	baselineName string // compiler-prefixed, set when compare/generate
}

// NewBatch validates options, derives defaults, and builds the records.
func NewBatch(opts Options) (*Batch, error) {
	if len(opts.Tests) == 0 {
		return nil, ErrNoTests
	}
	if opts.Compare && opts.Generate {
		return nil, ErrCompareAndGenerate
	}
	if opts.NamelistsOnly {
		opts.NoBuild = true
	}
	if opts.NoBuild {
		opts.NoRun = true
	}

	if opts.TestID == "" {
		opts.TestID = time.Now().UTC().Format("20060102_150405")
	}
	root, err := filepath.Abs(opts.TestRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving test root: %w", err)
	}
	opts.TestRoot = root

	if opts.ParallelJobs <= 0 {
		opts.ParallelJobs = min(len(opts.Tests), opts.MaxTasksPerNode)
	}
	if opts.ParallelJobs <= 0 {
		opts.ParallelJobs = 1
	}
	if opts.ProcPool <= 0 {
		// Oversubscribe by 1/4: not every phase needs a full allocation.
		opts.ProcPool = int(float64(opts.PESPerNode) * 1.25)
	}
	if opts.ProcPool <= 0 {
		return nil, fmt.Errorf("processor pool capacity must be positive (pes_per_node=%d)", opts.PESPerNode)
	}

	if len(opts.NamelistGlobs) == 0 {
		opts.NamelistGlobs = []string{"CaseDocs/*", "user_nl_*"}
	}
	opts.Commands.applyDefaults(opts.ScriptsRoot)

	b := &Batch{
		Opts:   opts,
		Phases: NewPhaseTable(opts.NoBuild, opts.NoRun, opts.Compare, opts.Generate),
		byName: make(map[string]*Record, len(opts.Tests)),
	}

	for _, name := range opts.Tests {
		if _, err := ParseTestName(name); err != nil {
			return nil, err
		}
		if _, dup := b.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTest, name)
		}
		rec := NewRecord(name)
		b.byName[name] = rec
		b.Records = append(b.Records, rec)
	}

	if opts.Compare || opts.Generate {
		if err := b.resolveBaseline(); err != nil {
			return nil, err
		}
	}

	// None of the case directories may already exist.
	for _, name := range opts.Tests {
		dir := b.CaseDir(name)
		if _, err := os.Stat(dir); err == nil {
			return nil, fmt.Errorf("%w: cannot create new case in %q, pick a different test id",
				ErrCaseDirExists, dir)
		}
	}

	return b, nil
}

// resolveBaseline normalizes the baseline name to its compiler-prefixed form
// and checks the comparison directory exists in compare mode.
func (b *Batch) resolveBaseline() error {
	opts := &b.Opts
	if opts.BaselineName == "" {
		return ErrNoBaselineName
	}
	if opts.BaselineRoot == "" {
		return ErrNoBaselineRoot
	}
	if opts.Compiler == "" {
		return fmt.Errorf("compiler is required to resolve baseline name %q", opts.BaselineName)
	}

	root, err := filepath.Abs(opts.BaselineRoot)
	if err != nil {
		return fmt.Errorf("resolving baseline root: %w", err)
	}
	opts.BaselineRoot = root

	b.baselineName = opts.BaselineName
	if !strings.HasPrefix(b.baselineName, opts.Compiler+"/") {
		b.baselineName = opts.Compiler + "/" + b.baselineName
	}

	if opts.Compare {
		dir := filepath.Join(opts.BaselineRoot, b.baselineName)
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingBaseline, dir)
		}
	}
	return nil
}

// Record returns the record for a test name.
func (b *Batch) Record(name string) (*Record, bool) {
	rec, ok := b.byName[name]
	return rec, ok
}

// BaselineName returns the compiler-prefixed baseline name, or "" when no
// baseline action was requested.
func (b *Batch) BaselineName() string {
	return b.baselineName
}

// CaseID returns the case directory name for a test: the test name, a
// baseline action code (.C for compare, .G for generate), and the test id.
func (b *Batch) CaseID(test string) string {
	code := ""
	if b.Opts.Compare {
		code = ".C"
	} else if b.Opts.Generate {
		code = ".G"
	}
	return fmt.Sprintf("%s%s.%s", test, code, b.Opts.TestID)
}

// CaseDir returns the working directory for a test.
func (b *Batch) CaseDir(test string) string {
	return filepath.Join(b.Opts.TestRoot, b.CaseID(test))
}

// StatusFile returns the durable status file path for a test.
func (b *Batch) StatusFile(test string) string {
	return filepath.Join(b.CaseDir(test), teststatus.Filename)
}

// LogFile returns the append-only per-test log path.
func (b *Batch) LogFile(test string) string {
	return filepath.Join(b.CaseDir(test), "TestStatus.log")
}

// SharedLibRoot returns where a test's build shares libraries. Serialized
// runs share one tree under the test root; parallel builds get a per-case
// tree to avoid sync problems.
func (b *Batch) SharedLibRoot(test string) string {
	name := "sharedlibroot." + b.Opts.TestID
	if b.Opts.ParallelJobs == 1 {
		return filepath.Join(b.Opts.TestRoot, name)
	}
	return filepath.Join(b.CaseDir(test), name)
}

// BaselineDir returns the baseline store directory for a test.
func (b *Batch) BaselineDir(test string) string {
	return filepath.Join(b.Opts.BaselineRoot, b.baselineName, test)
}
