package storage

import (
	"encoding/json"
	"errors"

	"tilevolve/internal/model"
)

const (
	CurrentSchemaVersion = model.CurrentSchemaVersion
	CurrentCodecVersion  = model.CurrentCodecVersion
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeSnapshot(s model.NetworkSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// EncodeSnapshotIndent is the human-readable form written to snapshot files.
func EncodeSnapshotIndent(s model.NetworkSnapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func DecodeSnapshot(data []byte) (model.NetworkSnapshot, error) {
	var snap model.NetworkSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.NetworkSnapshot{}, err
	}
	if err := checkVersion(snap.VersionedRecord); err != nil {
		return model.NetworkSnapshot{}, err
	}
	return snap, nil
}

func EncodePopulation(p model.Population) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePopulation(data []byte) (model.Population, error) {
	var population model.Population
	if err := json.Unmarshal(data, &population); err != nil {
		return model.Population{}, err
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return model.Population{}, err
	}
	for _, snap := range population.Snapshots {
		// Generation 0 slots that never played are stored unstamped.
		if snap.NetworkID == 0 {
			continue
		}
		if err := checkVersion(snap.VersionedRecord); err != nil {
			return model.Population{}, err
		}
	}
	return population, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func EncodeFitnessHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeFitnessHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
