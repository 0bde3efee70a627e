package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/domain"
)

// DataFileName is the JSON record inside the storage directory.
const DataFileName = "data.json"

// tempPrefix marks in-progress writes. They are never read back.
const tempPrefix = DataFileName + ".tmp-"

// staleTempAge is how old a temp file must be before Initialize treats it as
// abandoned. Younger ones may belong to a running daemon's flush.
const staleTempAge = time.Minute

// FileStore implements Store as a single JSON document that is replaced by
// writing a sibling temp file and renaming it over the destination.
type FileStore struct {
	fs       afero.Fs
	dir      string
	filepath string
	mu       sync.Mutex
}

func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{
		fs:       fs,
		dir:      dir,
		filepath: filepath.Join(dir, DataFileName),
	}
}

func (fs *FileStore) Path() string { return fs.filepath }

func (*FileStore) Close() error { return nil }

func (fs *FileStore) Initialize() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.fs.MkdirAll(fs.dir, 0o755); err != nil {
		return &PersistenceIOError{Op: "create directory", Path: fs.dir, Err: err}
	}
	fs.sweepTemps()

	exists, err := afero.Exists(fs.fs, fs.filepath)
	if err != nil {
		return &PersistenceIOError{Op: "stat", Path: fs.filepath, Err: err}
	}
	if exists {
		return nil
	}
	return fs.persist(domain.NewRecord())
}

func (fs *FileStore) Load() (domain.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := afero.ReadFile(fs.fs, fs.filepath)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewRecord(), nil
	}
	if err != nil {
		return domain.Record{}, &PersistenceIOError{Op: "read", Path: fs.filepath, Err: err}
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return domain.Record{}, &CorruptStoreError{Path: fs.filepath, Err: err}
	}
	return rec, nil
}

func (fs *FileStore) Save(rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return xerrors.Errorf("refusing to save inconsistent record: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.persist(rec)
}

func (fs *FileStore) persist(rec domain.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return xerrors.Errorf("encode record: %w", err)
	}
	return fs.writeAtomic(bytes.NewReader(data))
}

// writeAtomic copies r into a temp file next to the destination, syncs it,
// and renames it into place. On any failure the temp file is removed and the
// destination is left untouched.
func (fs *FileStore) writeAtomic(r io.Reader) (err error) {
	f, err := afero.TempFile(fs.fs, fs.dir, tempPrefix+"*")
	if err != nil {
		return &PersistenceIOError{Op: "create temp file", Path: fs.dir, Err: err}
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = fs.fs.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return &PersistenceIOError{Op: "write", Path: tmp, Err: err}
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return &PersistenceIOError{Op: "sync", Path: tmp, Err: err}
	}
	if err = f.Close(); err != nil {
		return &PersistenceIOError{Op: "close", Path: tmp, Err: err}
	}
	if err = fs.fs.Rename(tmp, fs.filepath); err != nil {
		return &PersistenceIOError{Op: "rename", Path: fs.filepath, Err: err}
	}
	return nil
}

// sweepTemps removes temp files left behind by an interrupted write.
func (fs *FileStore) sweepTemps() {
	entries, err := afero.ReadDir(fs.fs, fs.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleTempAge)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) && entry.ModTime().Before(cutoff) {
			_ = fs.fs.Remove(filepath.Join(fs.dir, entry.Name()))
		}
	}
}

// diskRecord mirrors domain.Record with a pointer total so a document
// missing the field is detected instead of read as zero.
type diskRecord struct {
	Total *uint64                `json:"total"`
	Daily map[domain.Date]uint64 `json:"daily"`
}

func decodeRecord(data []byte) (domain.Record, error) {
	var raw diskRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return domain.Record{}, xerrors.Errorf("decode: %w", err)
	}
	if dec.More() {
		return domain.Record{}, xerrors.New("trailing data after record")
	}
	if raw.Total == nil {
		return domain.Record{}, xerrors.New(`missing "total"`)
	}

	rec := domain.Record{Total: *raw.Total, Daily: raw.Daily}
	if rec.Daily == nil {
		rec.Daily = make(map[domain.Date]uint64)
	}
	if err := rec.Validate(); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// encodeRecord is deterministic: encoding/json sorts map keys, so saving a
// freshly loaded record reproduces the same bytes.
func encodeRecord(rec domain.Record) ([]byte, error) {
	if rec.Daily == nil {
		rec.Daily = make(map[domain.Date]uint64)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
