package document

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Format string

const (
	FormatText        Format = "text"
	FormatProseMirror Format = "prosemirror"
)

// FileSurface backs an Editable surface with a file on disk. Saves and
// external edits are reported through the surface's event hooks.
type FileSurface struct {
	Editable

	path string

	mu       sync.Mutex
	lastHash [32]byte
	name     string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	// OnError receives watcher and reload failures. Optional.
	OnError func(error)
}

// OpenFile loads path (a missing file yields an empty document) using format.
func OpenFile(path string, format Format) (*FileSurface, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var inner Editable
	switch format {
	case FormatProseMirror:
		pm, err := NewProseMirror(data)
		if err != nil {
			return nil, err
		}
		inner = pm
	case FormatText, "":
		inner = NewPlainText(string(data))
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}

	base := filepath.Base(path)
	return &FileSurface{
		Editable: inner,
		path:     path,
		lastHash: sha256.Sum256(data),
		name:     base[:len(base)-len(filepath.Ext(base))],
	}, nil
}

func (f *FileSurface) Path() string { return f.path }

// Name is the document's display name, initially the file stem.
func (f *FileSurface) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Save writes the document and emits EventSaved.
func (f *FileSurface) Save() error {
	return f.write(EventSaved)
}

// Autosave writes the document and emits EventAutosaved.
func (f *FileSurface) Autosave() error {
	return f.write(EventAutosaved)
}

func (f *FileSurface) write(kind EventKind) error {
	data, err := f.Bytes()
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create document dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	f.mu.Lock()
	f.lastHash = sha256.Sum256(data)
	f.mu.Unlock()
	f.Emit(Event{Kind: kind})
	return nil
}

// Reload re-reads the file. Content identical to the last load or save is
// ignored so our own writes do not echo back as external edits.
func (f *FileSurface) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	hash := sha256.Sum256(data)
	f.mu.Lock()
	unchanged := hash == f.lastHash
	if !unchanged {
		f.lastHash = hash
	}
	f.mu.Unlock()
	if unchanged {
		return nil
	}
	if err := f.Load(data); err != nil {
		return err
	}
	f.Emit(Event{Kind: EventLoaded})
	return nil
}

// Rename changes the display name and emits EventRenamed. The file on disk
// keeps its path.
func (f *FileSurface) Rename(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
	f.Emit(Event{Kind: EventRenamed, Name: name})
}

// Watch starts reloading on external writes. The parent directory is watched
// so editors that replace the file atomically are still seen.
func (f *FileSurface) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	f.wg.Add(1)
	go f.loop()
	return nil
}

func (f *FileSurface) loop() {
	defer f.wg.Done()
	target := filepath.Clean(f.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce = time.After(50 * time.Millisecond)
			}
		case <-debounce:
			debounce = nil
			if err := f.Reload(); err != nil {
				f.reportError(err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.reportError(err)
		}
	}
}

func (f *FileSurface) reportError(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Close stops the watcher if one is running.
func (f *FileSurface) Close() error {
	if f.watcher == nil {
		return nil
	}
	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	f.watcher = nil
	return err
}
