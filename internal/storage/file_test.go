package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nilszeilon/keystr/internal/domain"
	"github.com/nilszeilon/keystr/internal/storage"
)

const dir = "/home/user/.config/keystroke"

func sampleRecord() domain.Record {
	return domain.Record{
		Total: 142,
		Daily: map[domain.Date]uint64{
			"2025-10-07": 100,
			"2025-10-06": 42,
		},
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := storage.NewFileStore(afero.NewMemMapFs(), dir)
	rec, err := store.Load()
	require.NoError(t, err)
	require.Zero(t, rec.Total)
	require.NotNil(t, rec.Daily)
	require.Empty(t, rec.Daily)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, dir)
	require.NoError(t, store.Initialize())

	want := sampleRecord()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFileStoreSaveOfLoadIsStable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, dir)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Save(sampleRecord()))

	before, err := afero.ReadFile(fs, store.Path())
	require.NoError(t, err)

	rec, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(rec))

	after, err := afero.ReadFile(fs, store.Path())
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
	require.Contains(t, string(after), `"2025-10-06": 42`)
}

func TestFileStoreInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, dir)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Save(sampleRecord()))

	// A second Initialize must not clobber existing counts.
	require.NoError(t, store.Initialize())
	rec, err := store.Load()
	require.NoError(t, err)
	require.EqualValues(t, 142, rec.Total)
}

func TestFileStoreInitializeWritesEmptyRecord(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, dir)
	require.NoError(t, store.Initialize())

	data, err := afero.ReadFile(fs, filepath.Join(dir, storage.DataFileName))
	require.NoError(t, err)
	require.JSONEq(t, `{"total": 0, "daily": {}}`, string(data))
}

func TestFileStoreCorrupt(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"garbage":        "not json",
		"truncated":      `{"total": 3, "daily": {"2025-10-07"`,
		"missing total":  `{"daily": {}}`,
		"negative":       `{"total": -1, "daily": {}}`,
		"bad date":       `{"total": 1, "daily": {"07/10/2025": 1}}`,
		"sum mismatch":   `{"total": 5, "daily": {"2025-10-07": 1}}`,
		"unknown fields": `{"total_count": 0, "daily_records": []}`,
		"empty":          ``,
	}
	for name, content := range cases {
		content := content
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll(dir, 0o755))
			require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, storage.DataFileName), []byte(content), 0o644))

			_, err := storage.NewFileStore(fs, dir).Load()
			require.ErrorIs(t, err, storage.ErrCorrupt)
			var corrupt *storage.CorruptStoreError
			require.ErrorAs(t, err, &corrupt)
			require.Equal(t, filepath.Join(dir, storage.DataFileName), corrupt.Path)
		})
	}
}

func TestFileStoreRefusesInconsistentRecord(t *testing.T) {
	t.Parallel()

	store := storage.NewFileStore(afero.NewMemMapFs(), dir)
	require.NoError(t, store.Initialize())
	err := store.Save(domain.Record{Total: 2, Daily: map[domain.Date]uint64{"2025-10-07": 1}})
	require.Error(t, err)
}

// crashFs fails the rename step, standing in for a process that dies after
// writing the temp file but before replacing the destination.
type crashFs struct {
	afero.Fs
}

func (crashFs) Rename(string, string) error {
	return errors.New("simulated crash before rename")
}

func TestFileStoreCrashBeforeRenameKeepsPreviousRecord(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()
	store := storage.NewFileStore(base, dir)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Save(sampleRecord()))

	crashing := storage.NewFileStore(crashFs{Fs: base}, dir)
	next := sampleRecord()
	next.Total++
	next.Daily["2025-10-07"]++
	err := crashing.Save(next)
	var ioErr *storage.PersistenceIOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "rename", ioErr.Op)

	rec, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), rec)

	// The failed attempt does not leave temp files behind.
	entries, err := afero.ReadDir(base, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStoreIgnoresAndSweepsPartialTempFiles(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, dir)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Save(sampleRecord()))

	// A writer killed mid-copy leaves a truncated temp sibling.
	partial := filepath.Join(dir, storage.DataFileName+".tmp-123")
	require.NoError(t, afero.WriteFile(fs, partial, []byte(`{"total": 14`), 0o644))

	rec, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), rec)

	// Fresh temp files may be a running daemon's in-flight flush.
	require.NoError(t, store.Initialize())
	_, err = fs.Stat(partial)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes(partial, old, old))
	require.NoError(t, store.Initialize())
	_, err = fs.Stat(partial)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileStoreOnDisk(t *testing.T) {
	t.Parallel()

	d := t.TempDir()
	store := storage.NewFileStore(afero.NewOsFs(), filepath.Join(d, "keystroke"))
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Save(sampleRecord()))

	rec, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), rec)

	entries, err := os.ReadDir(filepath.Join(d, "keystroke"))
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.Contains(e.Name(), ".tmp-"), e.Name())
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	s, err := storage.Open(storage.Options{Dir: dir, Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	require.IsType(t, &storage.FileStore{}, s)

	_, err = storage.Open(storage.Options{Dir: dir, Backend: "csv"})
	require.Error(t, err)

	_, err = storage.Open(storage.Options{})
	require.Error(t, err)
}
