package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/graphwriter/internal/canonical"
)

// marshalProperties converts element properties to canonical JSON TEXT so
// identical property sets are stored byte-identically.
func marshalProperties(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	data, err := canonical.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(data), nil
}

// unmarshalProperties parses stored properties. Numbers decode as
// json.Number to avoid float64 precision loss.
func unmarshalProperties(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return props, nil
}
