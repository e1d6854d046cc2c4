package harness

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// newTestBatch builds a batch with test-friendly defaults, applying mutators
// to the options first.
func newTestBatch(t *testing.T, mutate ...func(*Options)) *Batch {
	t.Helper()
	opts := Options{
		Tests:           []string{"ERS.f19_g16.B1850.yellowstone_gnu"},
		TestRoot:        t.TempDir(),
		TestID:          "20250101_000000",
		ScriptsRoot:     "/opt/scripts",
		Compiler:        "gnu",
		PESPerNode:      16,
		MaxTasksPerNode: 8,
	}
	for _, m := range mutate {
		m(&opts)
	}
	b, err := NewBatch(opts)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	return b
}

func TestNewBatch_Defaults(t *testing.T) {
	t.Parallel()
	b := newTestBatch(t, func(o *Options) {
		o.Tests = []string{
			"ERS.f19_g16.B1850.yellowstone_gnu",
			"SMS.T62_g16.C.yellowstone_gnu",
		}
		o.TestID = ""
	})

	if b.Opts.TestID == "" {
		t.Error("test id was not defaulted")
	}
	if got, want := b.Opts.ParallelJobs, 2; got != want {
		t.Errorf("ParallelJobs = %d, want %d", got, want)
	}
	// 16 PES oversubscribed by a quarter.
	if got, want := b.Opts.ProcPool, 20; got != want {
		t.Errorf("ProcPool = %d, want %d", got, want)
	}
	if b.Phases.Contains(teststatus.PhaseNamelist) {
		t.Error("namelist phase configured without a baseline action")
	}
	if len(b.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(b.Records))
	}
	if !filepath.IsAbs(b.Opts.TestRoot) {
		t.Errorf("test root %q is not absolute", b.Opts.TestRoot)
	}
}

func TestNewBatch_ParallelJobsCappedByTasksPerNode(t *testing.T) {
	t.Parallel()
	b := newTestBatch(t, func(o *Options) {
		o.Tests = []string{
			"ERS.f19_g16.B1850.yellowstone_gnu",
			"SMS.T62_g16.C.yellowstone_gnu",
			"NCK.f45_g37.B1850C5.yellowstone_gnu",
		}
		o.MaxTasksPerNode = 2
	})
	if got, want := b.Opts.ParallelJobs, 2; got != want {
		t.Errorf("ParallelJobs = %d, want %d", got, want)
	}
}

func TestNewBatch_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{
			name:    "no tests",
			mutate:  func(o *Options) { o.Tests = nil },
			wantErr: ErrNoTests,
		},
		{
			name: "compare and generate together",
			mutate: func(o *Options) {
				o.Compare = true
				o.Generate = true
			},
			wantErr: ErrCompareAndGenerate,
		},
		{
			name: "duplicate test",
			mutate: func(o *Options) {
				o.Tests = append(o.Tests, o.Tests[0])
			},
			wantErr: ErrDuplicateTest,
		},
		{
			name: "malformed test name",
			mutate: func(o *Options) {
				o.Tests = []string{"not-a-test-name"}
			},
			wantErr: ErrBadTestName,
		},
		{
			name: "compare without baseline name",
			mutate: func(o *Options) {
				o.Compare = true
				o.BaselineRoot = "/tmp/baselines"
			},
			wantErr: ErrNoBaselineName,
		},
		{
			name: "generate without baseline root",
			mutate: func(o *Options) {
				o.Generate = true
				o.BaselineName = "master"
			},
			wantErr: ErrNoBaselineRoot,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := Options{
				Tests:           []string{"ERS.f19_g16.B1850.yellowstone_gnu"},
				TestRoot:        t.TempDir(),
				Compiler:        "gnu",
				PESPerNode:      16,
				MaxTasksPerNode: 8,
			}
			tc.mutate(&opts)
			if _, err := NewBatch(opts); !errors.Is(err, tc.wantErr) {
				t.Errorf("NewBatch error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewBatch_ProcPoolRequiresPES(t *testing.T) {
	t.Parallel()
	_, err := NewBatch(Options{
		Tests:           []string{"ERS.f19_g16.B1850.yellowstone_gnu"},
		TestRoot:        t.TempDir(),
		Compiler:        "gnu",
		MaxTasksPerNode: 8,
	})
	if err == nil {
		t.Fatal("expected error for zero processor pool")
	}
	if !strings.Contains(err.Error(), "pool") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewBatch_CaseDirCollision(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "ERS.f19_g16.B1850.yellowstone_gnu.20250101_000000")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := NewBatch(Options{
		Tests:           []string{"ERS.f19_g16.B1850.yellowstone_gnu"},
		TestRoot:        root,
		TestID:          "20250101_000000",
		Compiler:        "gnu",
		PESPerNode:      16,
		MaxTasksPerNode: 8,
	})
	if !errors.Is(err, ErrCaseDirExists) {
		t.Fatalf("NewBatch error = %v, want %v", err, ErrCaseDirExists)
	}
	if !strings.Contains(err.Error(), "pick a different test id") {
		t.Errorf("error %q does not suggest a new test id", err)
	}
}

func TestNewBatch_NamelistsOnlyChain(t *testing.T) {
	t.Parallel()
	b := newTestBatch(t, func(o *Options) {
		o.NamelistsOnly = true
		o.Compare = true
		o.BaselineName = "master"
		o.BaselineRoot = mkBaseline(t, "gnu/master")
	})

	if !b.Opts.NoBuild || !b.Opts.NoRun {
		t.Error("namelists-only did not imply no-build and no-run")
	}
	if got, want := b.Phases.Last(), teststatus.PhaseNamelist; got != want {
		t.Errorf("last phase = %s, want %s", got, want)
	}
}

// mkBaseline creates a baseline root containing the given relative dir and
// returns the root.
func mkBaseline(t *testing.T, rel string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestNewBatch_BaselineNameCompilerPrefix(t *testing.T) {
	t.Parallel()

	b := newTestBatch(t, func(o *Options) {
		o.Generate = true
		o.BaselineName = "master"
		o.BaselineRoot = t.TempDir()
	})
	if got, want := b.BaselineName(), "gnu/master"; got != want {
		t.Errorf("BaselineName = %q, want %q", got, want)
	}

	pre := newTestBatch(t, func(o *Options) {
		o.Generate = true
		o.BaselineName = "gnu/master"
		o.BaselineRoot = t.TempDir()
	})
	if got, want := pre.BaselineName(), "gnu/master"; got != want {
		t.Errorf("prefixed BaselineName = %q, want %q", got, want)
	}
}

func TestNewBatch_CompareRequiresBaselineDir(t *testing.T) {
	t.Parallel()

	_, err := NewBatch(Options{
		Tests:           []string{"ERS.f19_g16.B1850.yellowstone_gnu"},
		TestRoot:        t.TempDir(),
		Compiler:        "gnu",
		PESPerNode:      16,
		MaxTasksPerNode: 8,
		Compare:         true,
		BaselineName:    "master",
		BaselineRoot:    t.TempDir(),
	})
	if !errors.Is(err, ErrMissingBaseline) {
		t.Fatalf("NewBatch error = %v, want %v", err, ErrMissingBaseline)
	}

	b := newTestBatch(t, func(o *Options) {
		o.Compare = true
		o.BaselineName = "master"
		o.BaselineRoot = mkBaseline(t, "gnu/master")
	})
	if !b.Phases.Contains(teststatus.PhaseNamelist) {
		t.Error("compare batch lacks the namelist phase")
	}
}

func TestCaseID(t *testing.T) {
	t.Parallel()
	const test = "ERS.f19_g16.B1850.yellowstone_gnu"

	plain := newTestBatch(t)
	if got, want := plain.CaseID(test), test+".20250101_000000"; got != want {
		t.Errorf("CaseID = %q, want %q", got, want)
	}

	cmp := newTestBatch(t, func(o *Options) {
		o.Compare = true
		o.BaselineName = "master"
		o.BaselineRoot = mkBaseline(t, "gnu/master")
	})
	if got, want := cmp.CaseID(test), test+".C.20250101_000000"; got != want {
		t.Errorf("compare CaseID = %q, want %q", got, want)
	}

	gen := newTestBatch(t, func(o *Options) {
		o.Generate = true
		o.BaselineName = "master"
		o.BaselineRoot = t.TempDir()
	})
	if got, want := gen.CaseID(test), test+".G.20250101_000000"; got != want {
		t.Errorf("generate CaseID = %q, want %q", got, want)
	}
}

func TestSharedLibRoot(t *testing.T) {
	t.Parallel()
	const test = "ERS.f19_g16.B1850.yellowstone_gnu"

	serial := newTestBatch(t, func(o *Options) { o.ParallelJobs = 1 })
	want := filepath.Join(serial.Opts.TestRoot, "sharedlibroot.20250101_000000")
	if got := serial.SharedLibRoot(test); got != want {
		t.Errorf("serial SharedLibRoot = %q, want %q", got, want)
	}

	par := newTestBatch(t, func(o *Options) { o.ParallelJobs = 4 })
	want = filepath.Join(par.CaseDir(test), "sharedlibroot.20250101_000000")
	if got := par.SharedLibRoot(test); got != want {
		t.Errorf("parallel SharedLibRoot = %q, want %q", got, want)
	}
}

func TestBatch_PathHelpers(t *testing.T) {
	t.Parallel()
	const test = "ERS.f19_g16.B1850.yellowstone_gnu"
	b := newTestBatch(t)

	dir := b.CaseDir(test)
	if got, want := b.StatusFile(test), filepath.Join(dir, "TestStatus"); got != want {
		t.Errorf("StatusFile = %q, want %q", got, want)
	}
	if got, want := b.LogFile(test), filepath.Join(dir, "TestStatus.log"); got != want {
		t.Errorf("LogFile = %q, want %q", got, want)
	}

	rec, ok := b.Record(test)
	if !ok || rec.Name != test {
		t.Errorf("Record(%q) = %v, %v", test, rec, ok)
	}
	if _, ok := b.Record("nope"); ok {
		t.Error("Record returned ok for unknown test")
	}
}
