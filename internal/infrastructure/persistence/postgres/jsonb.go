package postgres

import (
	"encoding/json"
	"fmt"
)

// toJSONB encodes v for a nullable JSONB column
func toJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func fromJSONB(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}
