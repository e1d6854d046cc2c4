package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/shlex"
	"github.com/mattn/go-zglob"
)

// compareNamelists checks every candidate file in the case directory against
// its counterpart in the baseline store. A missing or differing counterpart
// sets the record's NamelistProblem flag; the phase itself still passes so
// later phases can proceed and the problem surfaces in the final verdict.
func (e *Executor) compareNamelists(ctx context.Context, test string) error {
	caseDir := e.batch.CaseDir(test)
	baseDir := e.batch.BaselineDir(test)

	candidates, err := e.namelistCandidates(test)
	if err != nil {
		return err
	}

	cmpArgv, err := shlex.Split(e.batch.Opts.Commands.Compare)
	if err != nil {
		return fmt.Errorf("compare command: %w", err)
	}

	problem := false
	for _, item := range candidates {
		rel, err := filepath.Rel(caseDir, item)
		if err != nil {
			return fmt.Errorf("comparing namelists for %s: %w", test, err)
		}
		counterpart := filepath.Join(baseDir, rel)

		if _, err := os.Stat(counterpart); err != nil {
			e.appendLog(test, fmt.Sprintf("Missing baseline namelist '%s'\n", counterpart))
			problem = true
			continue
		}

		argv := append(append([]string(nil), cmpArgv...), counterpart, item)
		res, runErr := e.runner.Run(ctx, caseDir, argv)
		if runErr == nil && res.ExitCode == 0 {
			continue
		}
		problem = true
		detail := res.Stdout
		if res.Stderr != "" {
			detail += "\n" + res.Stderr
		}
		if runErr != nil && strings.TrimSpace(detail) == "" {
			detail = runErr.Error()
		}
		e.appendLog(test, detail+"\n")
	}

	if problem {
		if rec, ok := e.batch.Record(test); ok {
			rec.NamelistProblem = true
		}
	}
	return nil
}

// generateNamelists replaces the test's baseline content with the current
// candidate files. The per-test directory is replaced wholesale under a file
// lock so two batches generating the same baseline cannot interleave.
func (e *Executor) generateNamelists(test string) error {
	caseDir := e.batch.CaseDir(test)
	baseDir := e.batch.BaselineDir(test)

	candidates, err := e.namelistCandidates(test)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(baseDir), 0o775); err != nil {
		return fmt.Errorf("generating baseline for %s: %w", test, err)
	}
	lock := flock.New(baseDir + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking baseline for %s: %w", test, err)
	}
	defer lock.Unlock()

	if err := os.RemoveAll(baseDir); err != nil {
		return fmt.Errorf("generating baseline for %s: %w", test, err)
	}
	if err := os.MkdirAll(baseDir, 0o775); err != nil {
		return fmt.Errorf("generating baseline for %s: %w", test, err)
	}

	for _, item := range candidates {
		rel, err := filepath.Rel(caseDir, item)
		if err != nil {
			return fmt.Errorf("generating baseline for %s: %w", test, err)
		}
		dst := filepath.Join(baseDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o775); err != nil {
			return fmt.Errorf("generating baseline for %s: %w", test, err)
		}
		if err := copyFile(item, dst); err != nil {
			return fmt.Errorf("generating baseline for %s: %w", test, err)
		}
	}
	return nil
}

// namelistCandidates globs the configured patterns under the case directory
// and drops names that are never namelists: READMEs, documentation, files
// for prescribed-data runs, and dotfiles.
func (e *Executor) namelistCandidates(test string) ([]string, error) {
	caseDir := e.batch.CaseDir(test)

	seen := make(map[string]bool)
	var out []string
	for _, pattern := range e.batch.Opts.NamelistGlobs {
		matches, err := zglob.Glob(filepath.Join(caseDir, pattern))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("globbing namelists for %s: %w", test, err)
		}
		for _, m := range matches {
			if seen[m] || excludedNamelist(filepath.Base(m)) {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func excludedNamelist(name string) bool {
	switch {
	case strings.HasPrefix(name, "."):
		return true
	case strings.Contains(name, "README"):
		return true
	case strings.HasSuffix(name, "doc"), strings.HasSuffix(name, "prescribed"):
		return true
	}
	return false
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
