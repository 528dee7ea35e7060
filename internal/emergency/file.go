package emergency

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// File keeps the flag in a JSON file so operators and other processes on the
// host can inspect or flip it. Reads are served from memory until the file's
// modification time or size changes.
type File struct {
	path   string
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	cached  State
	modTime time.Time
	size    int64
	loaded  bool
}

func NewFile(path string, opts ...Option) *File {
	o := buildOptions(opts)
	return &File{path: path, now: o.now, logger: o.logger}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Status(context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.loadLocked()
	if err != nil {
		return State{}, err
	}
	return resolve(s, f.now()), nil
}

func (f *File) Activate(_ context.Context, reason string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("overwriting unreadable emergency file")
		current = State{}
	}
	next := merge(current, reason, d, f.now())
	if err := f.writeLocked(next); err != nil {
		return err
	}
	f.logger.Warn().
		Str("reason", next.Reason).
		Time("auto_reset", next.AutoResetTime).
		Msg("emergency mode activated")
	return nil
}

func (f *File) Deactivate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeLocked(State{Timestamp: f.now()}); err != nil {
		return err
	}
	f.logger.Info().Msg("emergency mode deactivated")
	return nil
}

func (f *File) loadLocked() (State, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.cached, f.loaded = State{}, false
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("stat emergency file: %w", err)
	}
	if f.loaded && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return State{}, fmt.Errorf("read emergency file: %w", err)
	}
	var s State
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &s); err != nil {
			return State{}, fmt.Errorf("parse emergency file: %w", err)
		}
	}

	f.cached, f.modTime, f.size, f.loaded = s, info.ModTime(), info.Size(), true
	return s, nil
}

// writeLocked replaces the file atomically through a temp file in the same
// directory.
func (f *File) writeLocked(s State) error {
	data, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal emergency state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create emergency dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".emergency-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write emergency file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close emergency file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace emergency file: %w", err)
	}

	f.loaded = false
	return nil
}
