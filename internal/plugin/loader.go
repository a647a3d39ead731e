package plugin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/logging"
)

// FileExt is the extension of fragment files in the plugins directory.
const FileExt = ".lua"

// DefaultVersion is used when a file has no "-- version:" header.
const DefaultVersion = "1.1.0"

// PluginWriter persists fragments read from disk.
type PluginWriter interface {
	UpsertPlugin(ctx context.Context, name, version, code string) (*db.Plugin, error)
}

// Loader syncs *.lua files from a directory into the plugin table and keeps
// them in sync while watching. Deleting a file leaves the stored plugin in place.
type Loader struct {
	mu        sync.Mutex
	dir       string
	store     PluginWriter
	loaded    map[string]int64 // path -> plugin id
	watcher   *fsnotify.Watcher
	onChange  func(name string, id int64)
	cancelCtx context.CancelFunc
}

func NewLoader(dir string, store PluginWriter) *Loader {
	return &Loader{dir: dir, store: store, loaded: make(map[string]int64)}
}

// OnChange sets a callback for every stored (re)load.
func (l *Loader) OnChange(fn func(name string, id int64)) {
	l.onChange = fn
}

// LoadAll stores every fragment file in the directory. A missing directory is not an error.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugins dir: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), FileExt) {
			continue
		}
		if err := l.loadFile(ctx, filepath.Join(l.dir, e.Name())); err != nil {
			logging.Errorf("[plugins] %v", err)
			continue
		}
		n++
	}
	logging.Infof("[plugins] Loaded %d fragments from %s", n, l.dir)
	return nil
}

func (l *Loader) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	code := string(data)

	p, err := l.store.UpsertPlugin(ctx, name, headerVersion(code), code)
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}

	l.mu.Lock()
	l.loaded[path] = p.ID
	l.mu.Unlock()
	logging.Debugf("[plugins] Stored %s v%s as #%d", p.Name, p.Version, p.ID)

	if l.onChange != nil {
		l.onChange(p.Name, p.ID)
	}
	return nil
}

// headerVersion reads "-- version: x.y.z" from the leading comment block.
func headerVersion(code string) string {
	sc := bufio.NewScanner(strings.NewReader(code))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "--") {
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if v, ok := strings.CutPrefix(rest, "version:"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return DefaultVersion
}

// Loaded returns the plugin id stored for path.
func (l *Loader) Loaded(path string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.loaded[path]
	return id, ok
}

// Watch reloads fragments when files in the directory change.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	ctx, cancel := context.WithCancel(ctx)
	l.cancelCtx = cancel
	go l.watchLoop(ctx)

	if err := watcher.Add(l.dir); err != nil {
		logging.Errorf("[plugins] Could not watch %s: %v", l.dir, err)
	}
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(ctx, event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("[plugins] Watch error: %v", err)
		}
	}
}

func (l *Loader) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), FileExt) {
		return
	}
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		if err := l.loadFile(ctx, event.Name); err != nil {
			logging.Errorf("[plugins] Error reloading %s: %v", event.Name, err)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		l.mu.Lock()
		delete(l.loaded, event.Name)
		l.mu.Unlock()
		logging.Infof("[plugins] %s removed from disk; stored copy kept", filepath.Base(event.Name))
	}
}

// Stop stops watching.
func (l *Loader) Stop() {
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
}
