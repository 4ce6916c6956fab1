package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"oodresample/internal/model"
	"oodresample/internal/storage"
)

const (
	CheckpointExt  = ".ckpt"
	lastCheckpoint = "last" + CheckpointExt
)

// CheckpointPath names the checkpoint file of an epoch, or last.ckpt when
// last is set.
func CheckpointPath(runDir string, epoch int, last bool) string {
	if last {
		return filepath.Join(runDir, lastCheckpoint)
	}
	return filepath.Join(runDir, strconv.Itoa(epoch)+CheckpointExt)
}

// WriteCheckpointFile writes c under runDir and returns the path.
func WriteCheckpointFile(runDir string, c model.Checkpoint) (string, error) {
	payload, err := storage.EncodeCheckpoint(c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	path := CheckpointPath(runDir, c.Epoch, c.Last)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func ReadCheckpointFile(path string) (model.Checkpoint, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return model.Checkpoint{}, err
	}
	c, err := storage.DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
