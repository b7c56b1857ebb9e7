package config_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/internal/config"
)

const pollEvery = 10 * time.Millisecond

// memFile is a file on an in-memory filesystem whose mtime the test controls,
// so consecutive writes are always seen as modifications.
type memFile struct {
	t     *testing.T
	fs    afero.Fs
	path  string
	mtime time.Time
}

func newMemFile(t *testing.T, path, content string) *memFile {
	f := &memFile{t: t, fs: afero.NewMemMapFs(), path: path, mtime: time.Unix(1_700_000_000, 0)}
	f.write(content)
	return f
}

func (f *memFile) write(content string) {
	f.t.Helper()
	if err := afero.WriteFile(f.fs, f.path, []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
	f.touch()
}

func (f *memFile) touch() {
	f.t.Helper()
	f.mtime = f.mtime.Add(time.Second)
	if err := f.fs.Chtimes(f.path, f.mtime, f.mtime); err != nil {
		f.t.Fatal(err)
	}
}

// changes collects onChange calls.
type changes[T any] chan [2]T

func (c changes[T]) record(old, new T) { c <- [2]T{old, new} }

func (c changes[T]) wait(t *testing.T) (old, new T) {
	t.Helper()
	select {
	case got := <-c:
		return got[0], got[1]
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called")
		return
	}
}

func (c changes[T]) none(t *testing.T) {
	t.Helper()
	select {
	case <-c:
		t.Fatal("onChange called unexpectedly")
	case <-time.After(20 * pollEvery):
	}
}

func TestWatchConfig_AppliesLiveChanges(t *testing.T) {
	t.Parallel()
	f := newMemFile(t, "/etc/voxtrigger.yaml", "log_level: info\n")
	ch := make(changes[*config.Config], 4)

	w, err := config.WatchConfig(f.path, ch.record, config.WithFs(f.fs), config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	defer w.Stop()
	if w.Current().LogLevel != config.LogInfo {
		t.Fatalf("initial log_level = %q", w.Current().LogLevel)
	}

	f.write("log_level: debug\ncontrol:\n  allow_remote_commands: true\n")
	old, next := ch.wait(t)

	d := config.Diff(old, next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level debug", d)
	}
	if !d.AllowRemoteCommandsChanged || !d.AllowRemoteCommands {
		t.Errorf("diff = %+v, want remote commands allowed", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
	if w.Current() != next {
		t.Error("Current does not return the reloaded config")
	}
}

func TestWatchConfig_InvalidFileKeepsPrevious(t *testing.T) {
	t.Parallel()
	f := newMemFile(t, "/c.yaml", "log_level: warn\n")
	ch := make(changes[*config.Config], 4)

	w, err := config.WatchConfig(f.path, ch.record, config.WithFs(f.fs), config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	defer w.Stop()

	f.write("asr:\n  modle: tiny\n")
	ch.none(t)
	if got := w.Current().LogLevel; got != config.LogWarn {
		t.Errorf("log_level = %q, want the previous warn", got)
	}

	// A later fix is picked up.
	f.write("log_level: error\n")
	if _, next := ch.wait(t); next.LogLevel != config.LogError {
		t.Errorf("log_level = %q, want error", next.LogLevel)
	}
}

func TestWatchConfig_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	f := newMemFile(t, "/c.yaml", "log_level: info\n")
	ch := make(changes[*config.Config], 4)

	w, err := config.WatchConfig(f.path, ch.record, config.WithFs(f.fs), config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	defer w.Stop()

	f.touch()
	ch.none(t)
}

func TestWatchConfig_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.WatchConfig("/missing.yaml", nil, config.WithFs(afero.NewMemMapFs())); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newMemFile(t, "/c.yaml", "")
	w, err := config.WatchConfig(f.path, nil, config.WithFs(f.fs))
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	w.Stop()
	w.Stop()
}
