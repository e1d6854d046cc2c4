// Package watcher monitors case directories for status file updates using
// fsnotify. Both this process and the external run scripts write status
// files, so live views need to hear about changes regardless of who made
// them.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papapumpkin/sirocco/internal/teststatus"
)

// StatusChange reports that one case directory's status file was updated.
// Consumers re-read the file; by the time the event arrives its content may
// already be newer than whatever triggered it.
type StatusChange struct {
	CaseDir string
	File    string // Absolute path to the status file
}

// Watcher monitors a test root and a set of case directories for status
// file changes.
type Watcher struct {
	Changes <-chan StatusChange // Read-only external channel

	root    string
	wanted  map[string]bool // Case dirs to track
	changes chan StatusChange
	done    chan struct{}
	fw      *fsnotify.Watcher
}

// New creates a watcher for the given test root and case directories. Case
// directories that do not exist yet are picked up when they appear under
// the root.
func New(root string, caseDirs []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(caseDirs))
	for _, dir := range caseDirs {
		wanted[filepath.Clean(dir)] = true
	}

	ch := make(chan StatusChange, 16)
	w := &Watcher{
		Changes: ch,
		root:    root,
		wanted:  wanted,
		changes: ch,
		done:    make(chan struct{}),
		fw:      fw,
	}
	return w, nil
}

// Start registers the watches and begins delivering changes.
func (w *Watcher) Start() error {
	if err := w.fw.Add(w.root); err != nil {
		return err
	}
	for dir := range w.wanted {
		if _, err := os.Stat(dir); err != nil {
			continue // Not created yet; the root watch will catch it.
		}
		if err := w.fw.Add(dir); err != nil {
			return err
		}
	}

	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.fw.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: status files are rewritten whole, often twice in quick
	// succession.
	const debounce = 100 * time.Millisecond
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				// Drain pending on close.
				for file := range pending {
					w.emit(file)
				}
				return
			}

			// A tracked case directory just appeared under the root.
			if w.wanted[filepath.Clean(event.Name)] && event.Has(fsnotify.Create) {
				w.fw.Add(event.Name)
				continue
			}

			if !w.isStatusFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) >= debounce {
					w.emit(file)
					delete(pending, file)
				}
			}

		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the poll fallback covers gaps.
		}
	}
}

func (w *Watcher) isStatusFile(name string) bool {
	if filepath.Base(name) != teststatus.Filename {
		return false
	}
	return w.wanted[filepath.Clean(filepath.Dir(name))]
}

// emit never blocks the event loop: a consumer that has stopped draining
// must not wedge Stop. Consumers poll as a fallback, so a dropped change is
// picked up on their next pass.
func (w *Watcher) emit(file string) {
	select {
	case w.changes <- StatusChange{
		CaseDir: filepath.Dir(file),
		File:    file,
	}:
	default:
	}
}
