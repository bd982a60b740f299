// Package watch watches a workspace root for immediate subdirectories
// being added or removed and reports the resulting workspace-folder set,
// debounced. Adapted from the teacher's internal/daemon.FileWatcher,
// generalized from "which C++ source files changed" (which drove a
// reindex) to "which top-level project directories currently exist"
// (which drives Session.UpdateFolders) — the reference implementation's
// workspace-folder handling watches the same project tree for this kind
// of structural change, a feature the distillation dropped.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/firi/lspcore/internal/protocol"
)

// settleWindow mirrors the teacher's 500ms debounce between a burst of
// filesystem events and acting on them.
const settleWindow = 500 * time.Millisecond

// FolderWatcher watches root's immediate subdirectories and calls
// onChange, debounced, with the full current folder set whenever one is
// created, removed, or renamed.
type FolderWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	onChange func([]protocol.WorkspaceFolder)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stop chan struct{}
}

// New creates a FolderWatcher rooted at root and starts watching
// immediately in a background goroutine.
func New(root string, onChange func([]protocol.WorkspaceFolder)) (*FolderWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}

	fw := &FolderWatcher{
		watcher:  w,
		root:     root,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

func (fw *FolderWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				fw.scheduleNotify()
			}
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		case <-fw.stop:
			return
		}
	}
}

func (fw *FolderWatcher) scheduleNotify() {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(settleWindow, func() {
		fw.onChange(fw.currentFolders())
	})
}

func (fw *FolderWatcher) currentFolders() []protocol.WorkspaceFolder {
	entries, err := os.ReadDir(fw.root)
	if err != nil {
		return nil
	}
	folders := make([]protocol.WorkspaceFolder, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(fw.root, e.Name())
		folders = append(folders, protocol.WorkspaceFolder{
			URI:  "file://" + path,
			Name: e.Name(),
			Path: path,
		})
	}
	return folders
}

// Stop stops watching and releases the underlying fsnotify handle.
// It is not idempotent: calling it twice panics on the closed stop
// channel, matching the teacher's own Stop().
func (fw *FolderWatcher) Stop() error {
	close(fw.stop)
	fw.debounceMu.Lock()
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceMu.Unlock()
	return fw.watcher.Close()
}
