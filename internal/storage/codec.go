package storage

import (
	"encoding/json"
	"errors"

	"retinasim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps a record header with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeAxonMap(r model.AxonMapRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeAxonMap(data []byte) (model.AxonMapRecord, error) {
	var record model.AxonMapRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.AxonMapRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.AxonMapRecord{}, err
	}
	return record, nil
}

func EncodePercept(r model.PerceptRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodePercept(data []byte) (model.PerceptRecord, error) {
	var record model.PerceptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.PerceptRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.PerceptRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
