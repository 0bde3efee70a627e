package storage

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/domain"
)

// Store defines the interface for durable keystroke storage. When no daemon
// is running the store is the source of truth.
type Store interface {
	// Load reads the persisted record. A missing store yields an empty
	// record; an unparseable one yields a *CorruptStoreError.
	Load() (domain.Record, error)
	// Save replaces the persisted record. A crash during Save leaves the
	// previous record intact.
	Save(rec domain.Record) error
	// Initialize creates the storage directory and an empty record if
	// needed. It is a no-op when already initialized.
	Initialize() error
	// Path is the file holding the record.
	Path() string
	Close() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// ErrCorrupt is matched by every *CorruptStoreError.
var ErrCorrupt = errors.New("keystroke store is corrupt")

// CorruptStoreError reports a store file that exists but does not hold a
// valid record. Callers must not silently replace it.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt keystroke store %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

func (*CorruptStoreError) Is(target error) bool { return target == ErrCorrupt }

// PersistenceIOError reports a failed disk operation.
type PersistenceIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceIOError) Unwrap() error { return e.Err }

// Options selects and configures a backend.
type Options struct {
	Backend string
	Dir     string
	// Fs is used by the JSON backend. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Open returns the store for opts.Backend.
func Open(opts Options) (Store, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("storage directory must not be empty")
	}
	switch opts.Backend {
	case "", BackendJSON:
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewFileStore(fs, opts.Dir), nil
	case BackendSQLite:
		return NewSQLiteStore(opts.Dir)
	default:
		return nil, xerrors.Errorf("unknown storage backend %q", opts.Backend)
	}
}
