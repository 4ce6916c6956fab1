package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"

	"oodresample/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps a record with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeEpochDiagnostics(diagnostics []model.EpochDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeEpochDiagnostics(data []byte) ([]model.EpochDiagnostics, error) {
	var diagnostics []model.EpochDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

// EncodeCheckpoint packs a checkpoint as snappy-compressed msgpack.
func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	raw, err := msgpack.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("decompress checkpoint: %w", err)
	}
	var c model.Checkpoint
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return model.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := checkVersion(c.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return c, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
