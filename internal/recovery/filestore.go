package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/codesync-dev/codesync/internal/model"
	"github.com/codesync-dev/codesync/internal/store"
)

// checkpointExt is the suffix of on-disk checkpoint files.
const checkpointExt = ".json.lz4"

// FileCheckpointStore persists checkpoints as LZ4-compressed JSON
// files, one per checkpoint. It backs local runs where no hosted
// checkpoint table is available.
type FileCheckpointStore struct {
	dir string
}

// NewFileCheckpointStore creates the store, creating dir if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	return &FileCheckpointStore{dir: dir}, nil
}

// InsertCheckpoint writes one checkpoint file, assigning an id when
// absent.
func (s *FileCheckpointStore) InsertCheckpoint(_ context.Context, cp model.Checkpoint) (model.Checkpoint, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	err := s.write(cp)
	if err != nil {
		return model.Checkpoint{}, err
	}

	return cp, nil
}

// UpdateCheckpointStatus rewrites a checkpoint with the new status.
func (s *FileCheckpointStore) UpdateCheckpointStatus(_ context.Context, id string, status model.CheckpointStatus) error {
	cp, err := s.read(s.path(id))
	if err != nil {
		return err
	}

	cp.Status = status

	return s.write(cp)
}

// CheckpointsByProject returns the project's checkpoints, optionally
// filtered by status, newest first.
func (s *FileCheckpointStore) CheckpointsByProject(_ context.Context, projectID string, status model.CheckpointStatus) ([]model.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var checkpoints []model.Checkpoint

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), checkpointExt) {
			continue
		}

		cp, readErr := s.read(filepath.Join(s.dir, entry.Name()))
		if readErr != nil {
			return nil, readErr
		}

		if cp.ProjectID != projectID {
			continue
		}

		if status != "" && cp.Status != status {
			continue
		}

		checkpoints = append(checkpoints, cp)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})

	return checkpoints, nil
}

func (s *FileCheckpointStore) path(id string) string {
	return filepath.Join(s.dir, id+checkpointExt)
}

func (s *FileCheckpointStore) write(cp model.Checkpoint) error {
	file, err := os.Create(s.path(cp.ID))
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}

	zw := lz4.NewWriter(file)

	encodeErr := json.NewEncoder(zw).Encode(cp)

	closeErr := zw.Close()
	fileErr := file.Close()

	if encodeErr != nil {
		return fmt.Errorf("encode checkpoint: %w", encodeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("flush checkpoint: %w", closeErr)
	}

	if fileErr != nil {
		return fmt.Errorf("close checkpoint file: %w", fileErr)
	}

	return nil
}

func (s *FileCheckpointStore) read(path string) (model.Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Checkpoint{}, store.ErrNotFound
		}

		return model.Checkpoint{}, fmt.Errorf("open checkpoint file: %w", err)
	}

	defer func() { _ = file.Close() }()

	var cp model.Checkpoint

	err = json.NewDecoder(lz4.NewReader(file)).Decode(&cp)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}

	return cp, nil
}
