package supabase

import (
	"encoding/json"
	"fmt"
)

type validator interface {
	Validate() error
}

// DecodeRecord parses one row and validates it when T knows how.
func DecodeRecord[T any](raw []byte) (T, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// DecodeRecords parses a JSON array of rows.
func DecodeRecords[T any](raw []byte) ([]T, error) {
	var recs []T
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for i := range recs {
		if err := validate(recs[i]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	if recs == nil {
		recs = []T{}
	}
	return recs, nil
}

func validate(v any) error {
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}
