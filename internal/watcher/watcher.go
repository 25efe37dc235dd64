// Package watcher reports changes to the markdown posts of a corpus.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type Op int

const (
	Created Op = iota + 1
	Modified
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one change to a watched file.
type Event struct {
	Path string
	Op   Op
}

// Watcher follows a directory tree and emits events for files with one of
// the watched extensions.
type Watcher struct {
	watcher    *fsnotify.Watcher
	extensions []string
}

// New creates a watcher. Without extensions only .md files are reported.
func New(extensions ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".md"}
	}
	return &Watcher{watcher: w, extensions: extensions}, nil
}

// Watch adds dir and its subdirectories and returns the event channel. The
// channel is closed when ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.addTree(dir); err != nil {
		return nil, err
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && isDir(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						log.Warn().Err(err).Str("dir", event.Name).Msg("Could not watch new directory")
					}
					continue
				}
				if !w.isWatchedExtension(event.Name) {
					continue
				}

				var op Op
				switch {
				case event.Has(fsnotify.Create):
					op = Created
				case event.Has(fsnotify.Write):
					op = Modified
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					op = Deleted
				default:
					continue
				}

				log.Debug().Str("file", event.Name).Stringer("op", op).Msg("File changed")
				select {
				case events <- Event{Path: event.Name, Op: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Watcher error")
			}
		}
	}()
	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) isWatchedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
