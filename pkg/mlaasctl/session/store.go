package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	defaultDirName  = "mlaasctl"
	defaultFileName = "session"

	// EnvSessionFile overrides the session file location.
	EnvSessionFile = "MLAASCTL_SESSION_FILE"
)

// Store persists the single cached Session. Load never fails: a missing or
// damaged record reads as no session.
type Store interface {
	Load() (*Session, error)
	Save(*Session) error
	Delete() error
}

const (
	StorageFile     = "file"
	StorageKeychain = "keychain"
)

// NewStore returns the backend named by storage. An empty name means file.
func NewStore(storage, path string, log *zap.SugaredLogger) (Store, error) {
	switch storage {
	case "", StorageFile:
		return NewFileStore(path, log), nil
	case StorageKeychain:
		return NewKeyringStore(log), nil
	default:
		return nil, fmt.Errorf("unknown token storage %q (want %s or %s)", storage, StorageFile, StorageKeychain)
	}
}

func DefaultPath() string {
	if env := os.Getenv(EnvSessionFile); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultDirName, defaultFileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultDirName, defaultFileName)
}

// FileStore keeps the session in a 0600 file that is replaced atomically.
type FileStore struct {
	Path string
	Log  *zap.SugaredLogger
}

func NewFileStore(path string, log *zap.SugaredLogger) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileStore{Path: path, Log: log}
}

func (f *FileStore) Load() (*Session, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.Log.Debugw("Session file unreadable, ignoring", "path", f.Path, "error", err)
		}
		return nil, nil
	}
	s, err := Decode(data)
	if err != nil {
		f.Log.Debugw("Session file invalid, ignoring", "path", f.Path, "error", err)
		return nil, nil
	}
	return s, nil
}

func (f *FileStore) Save(s *Session) error {
	content, err := Encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+defaultFileName+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	committed = true
	return nil
}

func (f *FileStore) Delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
