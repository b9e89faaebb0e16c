package artifact

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// ErrCorruptArtifact is returned when the stored file is not a valid snapshot
var ErrCorruptArtifact = errors.New("artifact is not a valid snapshot")

// Store persists the single snapshot document
type Store interface {
	Path() string
	Load() (*models.Snapshot, error)
	ReadRaw() ([]byte, bool, error)
	Save(snapshot *models.Snapshot) error
	Restore(raw []byte, existed bool) error
}

// FileStore keeps the snapshot in one JSON file
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a store for path on fs
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: filepath.Clean(path)}
}

// NewOSFileStore creates a store backed by the real filesystem
func NewOSFileStore(path string) *FileStore {
	return NewFileStore(afero.NewOsFs(), path)
}

// Path returns the artifact location
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the stored snapshot, or nil when the file does not exist
func (s *FileStore) Load() (*models.Snapshot, error) {
	raw, exists, err := s.ReadRaw()
	if err != nil || !exists {
		return nil, err
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, errors.Join(ErrCorruptArtifact, err)
	}
	return &snapshot, nil
}

// ReadRaw returns the file bytes and whether the file exists
func (s *FileStore) ReadRaw() ([]byte, bool, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, utils.NewAppError(utils.ErrCodeArtifact, "Failed to read artifact", err.Error())
	}
	return raw, true, nil
}

// Save writes the snapshot as indented JSON. The file is replaced
// atomically so readers never see a partial document.
func (s *FileStore) Save(snapshot *models.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to encode snapshot", err.Error())
	}
	return s.writeAtomic(append(data, '\n'))
}

// Restore puts back bytes captured by ReadRaw. When the file did not
// exist it is removed.
func (s *FileStore) Restore(raw []byte, existed bool) error {
	if !existed {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return utils.NewAppError(utils.ErrCodeArtifact, "Failed to remove artifact", err.Error())
		}
		return nil
	}
	return s.writeAtomic(raw)
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to create artifact directory", err.Error())
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to create temp file", err.Error())
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to write artifact", err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to sync artifact", err.Error())
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to close artifact", err.Error())
	}
	if err := s.fs.Chmod(tmpName, 0644); err != nil {
		s.fs.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to set artifact permissions", err.Error())
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeArtifact, "Failed to replace artifact", err.Error())
	}
	return nil
}
