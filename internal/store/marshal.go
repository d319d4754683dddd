package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/gridsync/internal/record"
)

// marshalFields converts fields to canonical JSON TEXT for storage.
// Nil fields are stored as "{}".
func marshalFields(f record.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := record.MarshalCanonical(map[string]any(f))
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses JSON TEXT back into normalized fields. Numbers are
// decoded with UseNumber so IDs above 2^53 survive.
func unmarshalFields(data string) (record.Fields, error) {
	if data == "" || data == "{}" {
		return record.Fields{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	f, err := record.NormalizeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}
